package streamcapture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

// SyntheticSource generates color and depth test patterns at a fixed rate.
// It implements Source without hardware, for demos and tests.
type SyntheticSource struct {
	name  string
	fps   int
	param *CameraParam

	mu        sync.Mutex
	cfg       StreamConfig
	cb        FrameSetCallback
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	props     map[Property]bool
	frameSync bool
	closed    bool

	seq           atomic.Uint64
	framesEmitted atomic.Uint64
	outstanding   atomic.Int64
}

// NewSyntheticSource creates a synthetic source. param may be nil, in which
// case CameraParam reports the default intrinsics.
func NewSyntheticSource(name string, fps int, param *CameraParam) *SyntheticSource {
	if fps <= 0 {
		fps = FPS
	}
	return &SyntheticSource{
		name:  name,
		fps:   fps,
		param: param,
		props: make(map[Property]bool),
	}
}

// Name identifies the source in logs
func (m *SyntheticSource) Name() string { return "synthetic:" + m.name }

// StreamProfiles lists every ResolutionList entry for color and VGA for depth.
func (m *SyntheticSource) StreamProfiles(kind framepool.Channel) ([]StreamProfile, error) {
	if kind == framepool.Depth {
		return []StreamProfile{{Kind: framepool.Depth, Width: DepthWidth, Height: DepthHeight, Format: FormatY16, FPS: FPS}}, nil
	}
	profiles := make([]StreamProfile, 0, len(ResolutionList))
	for _, wh := range ResolutionList {
		profiles = append(profiles, StreamProfile{Kind: framepool.Color, Width: wh[0], Height: wh[1], Format: FormatRGB888, FPS: FPS})
	}
	return profiles, nil
}

// Start begins generating frame-sets
func (m *SyntheticSource) Start(cfg StreamConfig, cb FrameSetCallback) error {
	if cfg.Color == nil || cfg.Depth == nil {
		return fmt.Errorf("stream-capture: synthetic source needs color and depth streams")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("stream-capture: synthetic source closed")
	}
	if m.running {
		return ErrAlreadyStarted
	}
	m.cfg = cfg
	m.cb = cb
	m.running = true
	m.stopCh = make(chan struct{})

	slog.Info("stream-capture: synthetic source starting",
		"color", cfg.Color.String(),
		"depth", cfg.Depth.String(),
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generate(m.stopCh)
	return nil
}

// Stop stops generating. No callback runs after Stop returns.
func (m *SyntheticSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	slog.Info("stream-capture: synthetic source stopped",
		"frames_emitted", m.framesEmitted.Load(),
	)
	return nil
}

// SwitchConfig swaps the stream profiles while running.
func (m *SyntheticSource) SwitchConfig(cfg StreamConfig) error {
	if cfg.Color == nil || cfg.Depth == nil {
		return fmt.Errorf("stream-capture: synthetic source needs color and depth streams")
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// CameraParam returns the configured intrinsics, or defaults sized to the
// active color stream.
func (m *SyntheticSource) CameraParam() *CameraParam {
	if m.param != nil {
		p := *m.param
		return &p
	}

	m.mu.Lock()
	color := m.cfg.Color
	m.mu.Unlock()

	d := DefaultCalibration
	p := &CameraParam{
		Depth: Intrinsic{Fx: d.Fx, Fy: d.Fy, Cx: d.Cx, Cy: d.Cy, Width: DepthWidth, Height: DepthHeight},
		Color: Intrinsic{Fx: d.Fx, Fy: d.Fy, Cx: d.Cx, Cy: d.Cy, Width: DepthWidth, Height: DepthHeight},
	}
	if color != nil {
		sx := float64(color.Width) / float64(DepthWidth)
		sy := float64(color.Height) / float64(DepthHeight)
		p.Color = Intrinsic{
			Fx: d.Fx * sx, Fy: d.Fy * sy,
			Cx: d.Cx * sx, Cy: d.Cy * sy,
			Width: color.Width, Height: color.Height,
		}
	}
	return p
}

// SetBool records a device option.
func (m *SyntheticSource) SetBool(prop Property, v bool) error {
	m.mu.Lock()
	m.props[prop] = v
	m.mu.Unlock()
	return nil
}

// Property returns a recorded option and whether it was set.
func (m *SyntheticSource) Property(prop Property) (value, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok = m.props[prop]
	return value, ok
}

// EnableFrameSync records the request; synthetic frames are always paired.
func (m *SyntheticSource) EnableFrameSync() error {
	m.mu.Lock()
	m.frameSync = true
	m.mu.Unlock()
	return nil
}

// Close stops the source and refuses further starts.
func (m *SyntheticSource) Close() error {
	err := m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

// Outstanding returns the number of emitted frame-sets not yet closed.
func (m *SyntheticSource) Outstanding() int64 {
	return m.outstanding.Load()
}

// FramesEmitted returns the number of frame-sets delivered.
func (m *SyntheticSource) FramesEmitted() uint64 {
	return m.framesEmitted.Load()
}

func (m *SyntheticSource) generate(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			cfg, cb := m.cfg, m.cb
			m.mu.Unlock()

			fs := m.createFrameSet(cfg)
			m.framesEmitted.Add(1)
			cb(fs)
		}
	}
}

// createFrameSet draws a color gradient with a moving vertical bar and a
// depth ramp between 500 and 4500 mm.
func (m *SyntheticSource) createFrameSet(cfg StreamConfig) *FrameSet {
	seq := m.seq.Add(1)
	ts := seq * uint64(time.Second/time.Duration(m.fps)/time.Microsecond)

	cw, ch := cfg.Color.Width, cfg.Color.Height
	color := make([]byte, cw*ch*3)
	bar := int(seq*8) % cw
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := (y*cw + x) * 3
			color[i] = byte(x * 255 / cw)
			color[i+1] = byte(y * 255 / ch)
			color[i+2] = byte(seq)
			if x >= bar && x < bar+16 {
				color[i], color[i+1], color[i+2] = 255, 255, 255
			}
		}
	}

	dw, dh := cfg.Depth.Width, cfg.Depth.Height
	depth := make([]byte, dw*dh*2)
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			v := uint16(500 + (x+y+int(seq))%4000)
			binary.LittleEndian.PutUint16(depth[(y*dw+x)*2:], v)
		}
	}

	m.outstanding.Add(1)
	return NewFrameSet(
		&SubFrame{Width: cw, Height: ch, Format: FormatRGB888, Timestamp: ts, Data: color},
		&SubFrame{Width: dw, Height: dh, Format: FormatY16, Timestamp: ts, Data: depth},
		func() { m.outstanding.Add(-1) },
	)
}

// SyntheticWatcher attaches a fresh source produced by newSource when
// watching starts. Attach and Detach simulate hot-plug.
type SyntheticWatcher struct {
	newSource func() Source

	mu       sync.Mutex
	listener DeviceListener
	attached bool
}

// NewSyntheticWatcher creates a watcher around a source factory.
func NewSyntheticWatcher(newSource func() Source) *SyntheticWatcher {
	return &SyntheticWatcher{newSource: newSource}
}

// Watch registers the listener and attaches a device asynchronously.
func (w *SyntheticWatcher) Watch(l DeviceListener) error {
	w.mu.Lock()
	if w.listener != nil {
		w.mu.Unlock()
		return fmt.Errorf("stream-capture: watcher already in use")
	}
	w.listener = l
	w.mu.Unlock()

	go w.Attach()
	return nil
}

// Attach simulates plugging a device in. No-op when already attached.
func (w *SyntheticWatcher) Attach() {
	w.mu.Lock()
	l := w.listener
	if l == nil || w.attached {
		w.mu.Unlock()
		return
	}
	w.attached = true
	w.mu.Unlock()

	l.OnAttached(w.newSource())
}

// Detach simulates unplugging the device. No-op when nothing is attached.
func (w *SyntheticWatcher) Detach() {
	w.mu.Lock()
	l := w.listener
	if l == nil || !w.attached {
		w.mu.Unlock()
		return
	}
	w.attached = false
	w.mu.Unlock()

	l.OnDetached()
}

// Close stops watching without notifying the listener.
func (w *SyntheticWatcher) Close() error {
	w.mu.Lock()
	w.listener = nil
	w.attached = false
	w.mu.Unlock()
	return nil
}
