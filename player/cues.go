package player

import (
	"context"
	"math"
	"sync"
)

const (
	cueSampleRate = 44100

	// start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// end: medium pitch
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Cues plays short tones around recording. A nil *Cues is silent.
type Cues struct {
	out  Output
	once sync.Once

	start, end, fail *PCM
}

func NewCues(out Output) *Cues {
	if out == nil {
		out = NewOutput()
	}
	return &Cues{out: out}
}

func (c *Cues) init() {
	c.start = tone(startFreq, 0.05, startVolume, startDecay)
	c.end = tone(endFreq, 0.08, endVolume, endDecay)
	c.fail = doubleTone(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func (c *Cues) play(pick func() *PCM) {
	if c == nil {
		return
	}
	c.once.Do(c.init)
	pcm := pick()
	go c.out.Play(context.Background(), pcm)
}

func (c *Cues) Start() { c.play(func() *PCM { return c.start }) }
func (c *Cues) End()   { c.play(func() *PCM { return c.end }) }
func (c *Cues) Error() { c.play(func() *PCM { return c.fail }) }

func tone(freq, duration, volume, decay float64) *PCM {
	n := int(cueSampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / cueSampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return &PCM{Samples: samples, SampleRate: cueSampleRate, Channels: 1}
}

func doubleTone(freq, beepDur, gapDur, volume, decay float64) *PCM {
	beep := tone(freq, beepDur, volume, decay).Samples
	gap := make([]int16, int(cueSampleRate*gapDur))
	samples := make([]int16, 0, 2*len(beep)+len(gap))
	samples = append(samples, beep...)
	samples = append(samples, gap...)
	samples = append(samples, beep...)
	return &PCM{Samples: samples, SampleRate: cueSampleRate, Channels: 1}
}
