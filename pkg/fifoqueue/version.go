package fifoqueue

// handleMachineVersion implements §9's v3→v4 upgrade: versions before 4
// never recorded a consumer-lock deadline on checked-out messages, so the
// upgrade stamps one in using the current lock duration rather than
// leaving those entries permanently exempt from the timeout sweep.
func handleMachineVersion(meta Meta, cmd MachineVersionCommand, state *State) (Reply, []Effect) {
	if cmd.From < 4 && cmd.To >= 4 {
		for _, consumer := range state.Consumers {
			for msgID, cm := range consumer.CheckedOut {
				if cm.DeadlineTs != 0 {
					continue
				}
				cm.DeadlineTs = meta.SystemTime + Timestamp(state.Cfg.ConsumerLockMs)
				consumer.CheckedOut[msgID] = cm
			}
		}
	}
	return OK{}, nil
}
