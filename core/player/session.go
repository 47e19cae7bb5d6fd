package player

import (
	"context"

	"harmony/core/worker"
	"harmony/logger"
	"harmony/model"
)

// sessionState captures what is restored on the next start.
func (c *Coordinator) sessionState() (model.SessionState, bool) {
	if c.opts.Session == nil {
		return model.SessionState{}, false
	}
	state := model.SessionState{
		Shuffle: c.list.Shuffle(),
		Loop:    c.list.Loop(),
		Volume:  c.volume,
	}
	if track, ok := c.list.Current(); ok {
		state.FilePath = track.FilePath
		switch {
		case c.loading && c.seekPath == track.FilePath:
			state.Position = c.seekTo
		case c.active && !c.engineBusy() && c.engine.Path() == track.FilePath:
			state.Position, _, _ = c.engine.Progress()
		}
	}
	return state, true
}

func (c *Coordinator) saveSession() {
	state, ok := c.sessionState()
	if !ok {
		return
	}
	store := c.opts.Session
	if _, err := c.runner.Go("save-session", func(ctx context.Context) worker.Completion {
		if err := store.Save(ctx, state); err != nil {
			logger.Warn("failed to save session", logger.ErrorField(err))
		}
		return nil
	}); err != nil {
		logger.Debug("session save skipped", logger.ErrorField(err))
	}
}

// restoreSession reapplies flags, volume and the last track with its position.
// The track is loaded paused.
func (c *Coordinator) restoreSession() {
	store := c.opts.Session
	if store == nil {
		return
	}
	_, err := worker.Submit(c.runner, "restore-session", func(ctx context.Context) (*model.SessionState, error) {
		state, err := store.Load(ctx)
		if err != nil || state == nil || state.FilePath == "" {
			return state, err
		}
		ok, err := c.catalog.Exists(ctx, state.FilePath)
		if err != nil {
			return state, err
		}
		if !ok {
			state.FilePath = ""
		}
		return state, nil
	}, func(state *model.SessionState, err error) {
		if err != nil {
			logger.Warn("failed to restore session", logger.ErrorField(err))
			return
		}
		if state == nil {
			return
		}
		c.list.SetShuffle(state.Shuffle)
		c.list.SetLoop(state.Loop)
		c.setVolume(state.Volume)
		logger.Info("session restored",
			logger.String("path", state.FilePath),
			logger.Int("position", state.Position),
			logger.Bool("shuffle", state.Shuffle),
			logger.Bool("loop", state.Loop))

		if idx := c.list.IndexOf(state.FilePath); idx >= 0 && !c.loading && !c.active {
			c.seekPath, c.seekTo = state.FilePath, state.Position
			if err := c.selectAndLoad(idx, false); err != nil {
				logger.Warn("could not reload last track", logger.ErrorField(err))
			}
		}
		c.publishState()
	})
	if err != nil {
		logger.Debug("session restore skipped", logger.ErrorField(err))
	}
}
