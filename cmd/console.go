package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"harmony/core/player"
	"harmony/logger"
	"harmony/model"

	"golang.org/x/term"
)

const (
	volumeStep = 0.05
	seekStep   = 10
)

// statusPrinter renders player events as terminal lines.
type statusPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	eol string
	raw bool
}

func newStatusPrinter(w io.Writer, raw bool) *statusPrinter {
	eol := "\n"
	if raw {
		eol = "\r\n"
	}
	return &statusPrinter{w: w, eol: eol, raw: raw}
}

func (p *statusPrinter) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.raw {
		fmt.Fprint(p.w, "\r\033[K")
	}
	fmt.Fprintf(p.w, format+p.eol, args...)
}

func (p *statusPrinter) Notify(e player.Event) {
	switch ev := e.(type) {
	case player.TrackChanged:
		p.line("▶ %d. %s - %s", ev.Index+1, ev.Track.Title, ev.Track.Artist)
	case player.PlaybackStateChanged:
		p.line("[%s] shuffle=%s loop=%s volume=%d%%",
			ev.State, onOff(ev.Shuffle), onOff(ev.Loop), int(ev.Volume*100+0.5))
	case player.PlaylistChanged:
		p.line("playlist: %d tracks", len(ev.Tracks))
	case player.SongsAdded:
		msg := fmt.Sprintf("added %d", ev.Added)
		if n := len(ev.Duplicates); n > 0 {
			msg += fmt.Sprintf(", %d already in library", n)
		}
		if n := len(ev.Inaccessible); n > 0 {
			msg += fmt.Sprintf(", %d not accessible", n)
		}
		p.line("%s", msg)
	case player.SongsRemoved:
		p.line("removed %d missing or deleted tracks", ev.Count)
	case player.Error:
		p.line("error (%s): %s", ev.Kind, ev.Message)
	case player.Progress:
		if p.raw {
			p.mu.Lock()
			fmt.Fprintf(p.w, "\r\033[K%s / %s", clock(ev.Position), clock(ev.Duration))
			p.mu.Unlock()
		}
	}
}

func (p *statusPrinter) playlist(s player.Snapshot) {
	if len(s.Tracks) == 0 {
		p.line("playlist is empty")
		return
	}
	for i, t := range s.Tracks {
		marker := " "
		if i == s.Index {
			marker = "*"
		}
		p.line("%s %3d. %s", marker, i+1, t.Title)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// console maps single key presses onto player operations.
type console struct {
	coord *player.Coordinator
	out   *statusPrinter
}

func newConsole(coord *player.Coordinator, out *statusPrinter) *console {
	return &console{coord: coord, out: out}
}

const helpText = "keys: space play/pause  n next  p previous  , . seek  + - volume  s shuffle  l loop  r refresh  i list  x remove  q quit"

// Run reads keys in raw mode until q, ctrl-c or ctx is done.
func (c *console) Run(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("terminal raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	c.out.line("Harmony")
	c.out.line("%s", helpText)

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				close(keys)
				return
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if key == 'q' || key == 3 {
				return nil
			}
			if err := c.handle(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug("key action failed", logger.String("key", string(key)), logger.ErrorField(err))
				if errors.Is(err, model.ErrPlaylistEmpty) || errors.Is(err, model.ErrNotLoaded) {
					c.out.line("nothing to play")
				}
			}
		}
	}
}

func (c *console) handle(ctx context.Context, key byte) error {
	switch key {
	case ' ':
		return c.coord.PlayPause(ctx)
	case 'n':
		return c.coord.Next(ctx)
	case 'p':
		return c.coord.Previous(ctx)
	case 's':
		_, err := c.coord.ToggleShuffle(ctx)
		return err
	case 'l':
		_, err := c.coord.ToggleLoop(ctx)
		return err
	case 'r':
		removed, err := c.coord.Refresh(ctx)
		if err == nil {
			c.out.line("refresh: %d removed", removed)
		}
		return err
	case '+', '=', '-', '_':
		s, err := c.coord.Snapshot(ctx)
		if err != nil {
			return err
		}
		step := volumeStep
		if key == '-' || key == '_' {
			step = -volumeStep
		}
		_, err = c.coord.SetVolume(ctx, s.Volume+step)
		return err
	case ',', '.':
		s, err := c.coord.Snapshot(ctx)
		if err != nil {
			return err
		}
		step := seekStep
		if key == ',' {
			step = -seekStep
		}
		return c.coord.Seek(ctx, s.Position+step)
	case 'i':
		s, err := c.coord.Snapshot(ctx)
		if err != nil {
			return err
		}
		c.out.playlist(s)
		return nil
	case 'x':
		s, err := c.coord.Snapshot(ctx)
		if err != nil {
			return err
		}
		if s.Index < 0 {
			return model.ErrPlaylistEmpty
		}
		return c.coord.RemoveTrack(ctx, s.Index)
	case 'h', '?':
		c.out.line("%s", strings.TrimSpace(helpText))
		return nil
	}
	return nil
}
