package taskstate

// Derive maps session state to a protocol state. It never mutates its input.
//
//	outcome completed              -> completed
//	outcome canceled               -> canceled
//	outcome failed                 -> failed
//	turn active, approval pending  -> input-required
//	turn active                    -> working
//	anything else                  -> submitted
func Derive(s SessionState) State {
	switch s.Outcome {
	case OutcomeCompleted:
		return StateCompleted
	case OutcomeCanceled:
		return StateCanceled
	case OutcomeFailed:
		return StateFailed
	}
	if s.TurnActive {
		if len(s.PendingApprovals) > 0 {
			return StateInputRequired
		}
		return StateWorking
	}
	return StateSubmitted
}

// DeriveFromMessage maps one message to a protocol state.
func DeriveFromMessage(m Message) State {
	switch m.Status {
	case MessageError:
		return StateFailed
	case MessageCanceled:
		return StateCanceled
	case MessageAwaitingApproval:
		return StateInputRequired
	case MessageStreaming:
		return StateWorking
	case MessageDone:
		if m.Role == RoleAssistant && !m.HasToolCalls {
			return StateCompleted
		}
		if m.Role == RoleUser {
			return StateSubmitted
		}
		return StateWorking
	}
	if m.Role == RoleUser {
		return StateSubmitted
	}
	return StateWorking
}

// View builds the protocol status object for s.
func View(s SessionState) TaskStatus {
	ts := TaskStatus{
		ID:        s.TaskID,
		SessionID: s.SessionID,
		State:     Derive(s),
		Timestamp: s.UpdatedAt,
	}
	if len(s.PendingApprovals) > 0 {
		ts.Pending = append([]string(nil), s.PendingApprovals...)
	}
	if ts.State == StateFailed {
		ts.Message = s.Error
	}
	return ts
}
