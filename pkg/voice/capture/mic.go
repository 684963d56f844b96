// Package capture acquires microphone audio and delivers it as fixed-size
// frames.
package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/manetar-ai/manetar-live/pkg/live"
)

// frameQueueDepth bounds how many assembled frames can wait for delivery.
// When the consumer stalls the oldest frame is dropped first, so delivered
// audio stays close to real time.
const frameQueueDepth = 8

// Microphone captures audio from the default input device. It implements
// live.CaptureSource.
type Microphone struct {
	sampleRate int
	channels   int

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	assembler *frameAssembler
	frames    chan live.AudioFrame

	onFrame     func(live.AudioFrame)
	deliverDone chan struct{}

	started bool
	stopped atomic.Bool
}

// NewMicrophone creates a microphone producing frames of frameSize samples
// per channel at the given rate.
func NewMicrophone(sampleRate, channels, frameSize int) *Microphone {
	m := &Microphone{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     make(chan live.AudioFrame, frameQueueDepth),
	}
	m.assembler = newFrameAssembler(frameSize*channels, m.enqueue)
	return m
}

// Open acquires the default capture device without starting it.
func (m *Microphone) Open() error {
	if m.ctx != nil {
		return fmt.Errorf("microphone already open")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return live.NewDeviceUnavailableError("init audio context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.assembler.push(samplesFromF32LE(input))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return live.NewDeviceUnavailableError("init capture device", err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

// Start begins capture and frame delivery. Frames reach onFrame in capture
// order on a dedicated goroutine.
func (m *Microphone) Start(onFrame func(live.AudioFrame)) error {
	if m.device == nil {
		return fmt.Errorf("microphone not open")
	}
	if m.started {
		return fmt.Errorf("microphone already started")
	}

	m.onFrame = onFrame
	if err := m.device.Start(); err != nil {
		return live.NewPermissionDeniedError("start capture device", err)
	}

	m.started = true
	m.deliverDone = make(chan struct{})
	go m.deliverLoop()
	return nil
}

func (m *Microphone) deliverLoop() {
	defer close(m.deliverDone)
	for frame := range m.frames {
		m.onFrame(frame)
	}
}

// enqueue hands an assembled frame to the delivery queue, dropping the
// oldest queued frame when the consumer falls behind.
func (m *Microphone) enqueue(samples []float32) {
	frame := live.AudioFrame{
		Samples:    samples,
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}
	select {
	case m.frames <- frame:
		return
	default:
	}
	select {
	case <-m.frames:
	default:
	}
	select {
	case m.frames <- frame:
	default:
	}
}

// Stop halts capture and releases the device. It is idempotent; when it
// returns no further frame is delivered.
func (m *Microphone) Stop() error {
	if m.stopped.Swap(true) {
		return nil
	}

	if m.device != nil {
		// Uninit blocks until the data callback has drained, after which
		// nothing writes to the frame queue.
		m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}

	close(m.frames)
	if m.started {
		<-m.deliverDone
	}

	if m.ctx != nil {
		m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// frameAssembler buffers incoming samples and emits exact fixed-size frames.
// It is driven from the device callback thread only.
type frameAssembler struct {
	size    int
	pending []float32
	emit    func([]float32)
}

func newFrameAssembler(size int, emit func([]float32)) *frameAssembler {
	return &frameAssembler{size: size, emit: emit}
}

func (a *frameAssembler) push(samples []float32) {
	a.pending = append(a.pending, samples...)
	for len(a.pending) >= a.size {
		frame := make([]float32, a.size)
		copy(frame, a.pending[:a.size])
		a.pending = a.pending[a.size:]
		a.emit(frame)
	}
}

// samplesFromF32LE reinterprets little-endian float32 PCM bytes as samples.
// A trailing partial sample is discarded.
func samplesFromF32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
