package infra

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

// RandRDisplay implements domain.DisplayAPI with the X11 RandR extension.
// Output names (e.g. "HDMI-1") are the monitor identities.
type RandRDisplay struct {
	mu   sync.Mutex
	conn *xgb.Conn
	root xproto.Window
	mmW  uint32 // Physical screen size, used to keep DPI when growing
	mmH  uint32
	pxW  uint16
	pxH  uint16
}

// NewRandRDisplay connects to $DISPLAY and requires RandR 1.3 or later.
func NewRandRDisplay() (*RandRDisplay, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("RandR extension unavailable: %w", err)
	}
	ver, err := randr.QueryVersion(conn, 1, 3).Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to query RandR version: %w", err)
	}
	if ver.MajorVersion < 1 || (ver.MajorVersion == 1 && ver.MinorVersion < 3) {
		conn.Close()
		return nil, fmt.Errorf("RandR %d.%d too old, need 1.3", ver.MajorVersion, ver.MinorVersion)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &RandRDisplay{
		conn: conn,
		root: screen.Root,
		mmW:  uint32(screen.WidthInMillimeters),
		mmH:  uint32(screen.HeightInMillimeters),
		pxW:  screen.WidthInPixels,
		pxH:  screen.HeightInPixels,
	}, nil
}

// Close releases the X connection.
func (d *RandRDisplay) Close() {
	d.conn.Close()
}

// Enumerate lists connected outputs. Calls are not cancellable on the wire;
// the controller bounds them with its own timeout.
func (d *RandRDisplay) Enumerate(ctx context.Context) ([]domain.MonitorDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := randr.GetScreenResourcesCurrent(d.conn, d.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}
	primary, err := randr.GetOutputPrimary(d.conn, d.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get primary output: %w", err)
	}

	var monitors []domain.MonitorDescriptor
	for _, out := range res.Outputs {
		info, err := randr.GetOutputInfo(d.conn, out, res.ConfigTimestamp).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to get output %d info: %w", out, err)
		}
		if info.Connection != randr.ConnectionConnected {
			continue
		}

		m := domain.MonitorDescriptor{
			ID:      string(info.Name),
			Name:    string(info.Name),
			Primary: out == primary.Output,
		}
		if info.Crtc != 0 {
			crtc, err := randr.GetCrtcInfo(d.conn, info.Crtc, res.ConfigTimestamp).Reply()
			if err != nil {
				return nil, fmt.Errorf("failed to get crtc %d info: %w", info.Crtc, err)
			}
			m.Enabled = crtc.Mode != 0
			m.X, m.Y = int(crtc.X), int(crtc.Y)
			m.Width, m.Height = int(crtc.Width), int(crtc.Height)
			if mi, ok := modeInfo(res.Modes, crtc.Mode); ok {
				m.RefreshHz = refreshHz(mi)
			}
		} else if mi, ok := preferredMode(res.Modes, info); ok {
			// Disabled: report the geometry it would come back with.
			m.Width, m.Height = int(mi.Width), int(mi.Height)
			m.RefreshHz = refreshHz(mi)
		}
		monitors = append(monitors, m)
	}
	return monitors, nil
}

// Configure enables or disables one output.
func (d *RandRDisplay) Configure(ctx context.Context, desired domain.MonitorDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := randr.GetScreenResourcesCurrent(d.conn, d.root).Reply()
	if err != nil {
		return fmt.Errorf("failed to get screen resources: %w", err)
	}
	out, info, err := d.findOutput(res, desired.ID)
	if err != nil {
		return err
	}

	if !desired.Enabled {
		if info.Crtc == 0 {
			return nil
		}
		return d.setCrtc(res, info.Crtc, 0, 0, 0, nil)
	}

	if info.Crtc != 0 {
		return nil
	}
	mode, ok := pickMode(res.Modes, info.Modes, desired.Width, desired.Height, desired.RefreshHz)
	if !ok {
		return fmt.Errorf("output %s has no usable mode", desired.ID)
	}
	crtc, err := d.freeCrtc(res, info)
	if err != nil {
		return fmt.Errorf("output %s: %w", desired.ID, err)
	}
	mi, _ := modeInfo(res.Modes, mode)
	if err := d.growScreen(desired.X+int(mi.Width), desired.Y+int(mi.Height)); err != nil {
		return err
	}
	if err := d.setCrtc(res, crtc, int16(desired.X), int16(desired.Y), mode, []randr.Output{out}); err != nil {
		return err
	}
	if desired.Primary {
		if err := randr.SetOutputPrimaryChecked(d.conn, d.root, out).Check(); err != nil {
			return fmt.Errorf("failed to set %s primary: %w", desired.ID, err)
		}
	}
	return nil
}

func (d *RandRDisplay) findOutput(res *randr.GetScreenResourcesCurrentReply, id string) (randr.Output, *randr.GetOutputInfoReply, error) {
	for _, out := range res.Outputs {
		info, err := randr.GetOutputInfo(d.conn, out, res.ConfigTimestamp).Reply()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to get output %d info: %w", out, err)
		}
		if string(info.Name) == id {
			return out, info, nil
		}
	}
	return 0, nil, fmt.Errorf("unknown output %q", id)
}

func (d *RandRDisplay) freeCrtc(res *randr.GetScreenResourcesCurrentReply, info *randr.GetOutputInfoReply) (randr.Crtc, error) {
	for _, c := range info.Crtcs {
		ci, err := randr.GetCrtcInfo(d.conn, c, res.ConfigTimestamp).Reply()
		if err != nil {
			return 0, fmt.Errorf("failed to get crtc %d info: %w", c, err)
		}
		if len(ci.Outputs) == 0 {
			return c, nil
		}
	}
	return 0, fmt.Errorf("no free crtc")
}

func (d *RandRDisplay) setCrtc(res *randr.GetScreenResourcesCurrentReply, crtc randr.Crtc, x, y int16, mode randr.Mode, outputs []randr.Output) error {
	reply, err := randr.SetCrtcConfig(d.conn, crtc, xproto.TimeCurrentTime, res.ConfigTimestamp,
		x, y, mode, randr.RotationRotate0, outputs).Reply()
	if err != nil {
		return fmt.Errorf("SetCrtcConfig failed: %w", err)
	}
	if reply.Status != randr.SetConfigSuccess {
		return fmt.Errorf("SetCrtcConfig status %d", reply.Status)
	}
	return nil
}

// growScreen enlarges the X screen so an output fits, keeping DPI.
func (d *RandRDisplay) growScreen(right, bottom int) error {
	w, h := int(d.pxW), int(d.pxH)
	if right <= w && bottom <= h {
		return nil
	}
	nw, nh := max(w, right), max(h, bottom)
	mmW := scaleMM(d.mmW, w, nw)
	mmH := scaleMM(d.mmH, h, nh)
	if err := randr.SetScreenSizeChecked(d.conn, d.root, uint16(nw), uint16(nh), mmW, mmH).Check(); err != nil {
		return fmt.Errorf("failed to grow screen to %dx%d: %w", nw, nh, err)
	}
	d.pxW, d.pxH, d.mmW, d.mmH = uint16(nw), uint16(nh), mmW, mmH
	return nil
}

func scaleMM(mm uint32, px, newPx int) uint32 {
	if px == 0 {
		return mm
	}
	return uint32(math.Round(float64(mm) * float64(newPx) / float64(px)))
}

// refreshHz computes the vertical refresh of a mode.
func refreshHz(mi randr.ModeInfo) float64 {
	if mi.Htotal == 0 || mi.Vtotal == 0 {
		return 0
	}
	hz := float64(mi.DotClock) / (float64(mi.Htotal) * float64(mi.Vtotal))
	return math.Round(hz*100) / 100
}

func modeInfo(modes []randr.ModeInfo, id randr.Mode) (randr.ModeInfo, bool) {
	for _, mi := range modes {
		if randr.Mode(mi.Id) == id {
			return mi, true
		}
	}
	return randr.ModeInfo{}, false
}

func preferredMode(modes []randr.ModeInfo, info *randr.GetOutputInfoReply) (randr.ModeInfo, bool) {
	if len(info.Modes) == 0 {
		return randr.ModeInfo{}, false
	}
	return modeInfo(modes, info.Modes[0])
}

// pickMode chooses among an output's modes the one matching the geometry,
// closest in refresh rate. Falls back to the first (preferred) mode.
func pickMode(modes []randr.ModeInfo, allowed []randr.Mode, width, height int, hz float64) (randr.Mode, bool) {
	if len(allowed) == 0 {
		return 0, false
	}
	best, bestDelta := randr.Mode(0), math.MaxFloat64
	for _, id := range allowed {
		mi, ok := modeInfo(modes, id)
		if !ok || int(mi.Width) != width || int(mi.Height) != height {
			continue
		}
		delta := math.Abs(refreshHz(mi) - hz)
		if delta < bestDelta {
			best, bestDelta = id, delta
		}
	}
	if best != 0 {
		return best, true
	}
	return allowed[0], true
}

var _ domain.DisplayAPI = (*RandRDisplay)(nil)
