package wsock

import "github.com/arfx/wsock/internal/wsframe"

// writeLoop owns the write half of the socket exclusively: it is the
// only goroutine that ever calls wsframe.WriteFrame on c.bw. Control
// frames always drain ahead of queued data frames, satisfying the
// requirement that a fragmented data message never delays a timely
// Pong or Close reply.
func (c *Conn) writeLoop() error {
	for {
		// Drain any pending control frames first, non-blockingly.
		select {
		case job := <-c.control:
			if err := c.writeJob(job); err != nil {
				return err
			}
			if job.opcode == wsframe.OpClose {
				return nil
			}
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			return c.ctx.Err()

		case job := <-c.control:
			if err := c.writeJob(job); err != nil {
				return err
			}
			if job.opcode == wsframe.OpClose {
				return nil
			}

		case job := <-c.outbound:
			if err := c.writeJob(job); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) writeJob(job frameJob) error {
	masked := !c.isServer
	if err := wsframe.WriteFrame(c.bw, true, job.opcode, masked, job.payload); err != nil {
		return err
	}
	return c.bw.Flush()
}
