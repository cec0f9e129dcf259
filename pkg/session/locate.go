package session

import (
	"context"

	"chatroom/pkg/locate"
	"chatroom/pkg/message"
)

// startLocateLocked opens a locate request: it starts the position watch when
// a source exists and schedules the first check.
func (c *Controller) startLocateLocked(req message.Locate) {
	if c.source != nil && c.watchCancel == nil {
		watchCtx, cancel := context.WithCancel(c.ctx)
		if err := c.source.Watch(watchCtx, c.ReportPosition); err != nil {
			cancel()
			c.log.Warn("Position watch failed", "error", err)
		} else {
			c.watchCancel = cancel
		}
	}

	c.arm(&c.locating, c.opts.LocateDelay, func() func() {
		return c.checkLocateLocked(req, true)
	})
}

// checkLocateLocked picks the reply for a locate request. With no fixes yet and
// an active watch it retries once.
func (c *Controller) checkLocateLocked(req message.Locate, retry bool) func() {
	if c.positions.Len() == 0 {
		if retry && c.watchCancel != nil {
			c.arm(&c.locating, c.opts.LocateDelay, func() func() {
				return c.checkLocateLocked(req, false)
			})
			return nil
		}
		return c.locateReply(req.ErrorIntent, req.ErrorIntent)
	}

	best, ok := c.positions.Best(c.now())
	if !ok {
		c.log.Warn("No recent position for locate request")
		return c.locateReply(req.ErrorIntent, req.ErrorIntent)
	}

	title, payload, err := locate.Reply(req.Intent, best)
	if err != nil {
		c.log.Error("Failed to build locate reply", "error", err)
		return c.locateReply(req.ErrorIntent, req.ErrorIntent)
	}

	return c.locateReply(title, payload)
}

func (c *Controller) locateReply(title string, payload string) func() {
	ctx := c.ctx
	return func() {
		if err := c.send(ctx, payload, message.Metadata{message.MetaDisplayText: title}, sendOptions{}); err != nil {
			c.log.Error("Failed to answer locate request", "error", err)
		}
	}
}
