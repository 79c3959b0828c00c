package queue

// Coalesce concatenates the content of msgs in the given order. It performs no
// deduplication or merging. It returns nil for an empty batch.
func Coalesce(msgs []*QueuedMessage) *CoalescedMessage {
	if len(msgs) == 0 {
		return nil
	}

	n := 0
	for _, m := range msgs {
		n += len(m.Parts)
	}

	out := &CoalescedMessage{
		Messages:      msgs,
		Parts:         make([]Part, 0, n),
		FirstQueuedAt: msgs[0].QueuedAt,
		LastQueuedAt:  msgs[0].QueuedAt,
	}
	for _, m := range msgs {
		out.Parts = append(out.Parts, m.Parts...)
		if m.QueuedAt.Before(out.FirstQueuedAt) {
			out.FirstQueuedAt = m.QueuedAt
		}
		if m.QueuedAt.After(out.LastQueuedAt) {
			out.LastQueuedAt = m.QueuedAt
		}
	}
	return out
}

// Text joins the text parts of a coalesced message with newlines.
func (c *CoalescedMessage) Text() string {
	var b []byte
	for _, p := range c.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, p.Text...)
	}
	return string(b)
}
