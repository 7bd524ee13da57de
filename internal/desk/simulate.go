package desk

import "github.com/directline-io/directline/pkg/protocol"

const (
	agentAckText    = "Thank you for the information. We are looking into your issue."
	clientReplyText = "Okay, thank you for the response!"
)

// Acknowledgements get their own owner key so a claim can cancel them
// without touching other tasks of the consultation.
func ackOwner(id string) string { return id + "/ack" }

func (d *Desk) simulating() bool {
	return d.cfg.SimulateReplies && d.sched != nil
}

// scheduleAgentAck posts a canned staff acknowledgement if nobody has
// claimed the consultation by the time the delay elapses.
func (d *Desk) scheduleAgentAck(id string) {
	if !d.simulating() {
		return
	}
	d.sched.After(ackOwner(id), d.cfg.AgentReplyDelay, func() {
		d.simulated(id, func(c *protocol.Consultation) (protocol.Author, string, string, bool) {
			return protocol.AuthorSupportAgent, "", agentAckText, c.Agent == nil
		})
	})
}

// scheduleClientReply posts a canned client answer to a staff message.
func (d *Desk) scheduleClientReply(id string) {
	if !d.simulating() {
		return
	}
	d.sched.After(id, d.cfg.ClientReplyDelay, func() {
		d.simulated(id, func(c *protocol.Consultation) (protocol.Author, string, string, bool) {
			return protocol.AuthorClient, c.Client.ID, clientReplyText, true
		})
	})
}

// simulated appends a canned message after re-checking the consultation is
// still open. pick decides author and text and may veto the message.
func (d *Desk) simulated(id string, pick func(c *protocol.Consultation) (protocol.Author, string, string, bool)) {
	if d.ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.store.Get(id)
	if err != nil {
		d.logger.Warn("simulated reply dropped", "consultation", id, "error", err)
		return
	}
	if c.Status == protocol.StatusClosed {
		d.logger.Debug("simulated reply skipped, consultation closed", "consultation", id)
		return
	}
	author, authorID, text, ok := pick(c)
	if !ok {
		return
	}
	if _, err := d.message(c, author, authorID, text, nil); err != nil {
		d.logger.Warn("simulated reply not recorded", "consultation", id, "error", err)
	}
}
