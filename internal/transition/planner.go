/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transition computes crossfade edit points between consecutive
// tracks and renders them as encoder filter parameters. It does no signal
// processing itself.
package transition

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/models"
)

// Plan describes how one track is rendered. All positions are seconds on
// the current track's own timeline.
type Plan struct {
	CurrentDuration float64
	// StartOffset is where rendering begins; non-zero when a previous
	// crossfade already played the head of this track.
	StartOffset float64

	FadeOutStart    float64
	FadeOutDuration float64

	HasNext        bool
	FadeInStart    float64
	FadeInDuration float64
	// OverlapOffset is where the next track's head is mixed in.
	OverlapOffset float64
	// NextTrim is how much of the next track is mixed into this render.
	// The next track's own render starts at this position.
	NextTrim float64

	// Preempt renders only a stepped fade to silence from StartOffset.
	Preempt     bool
	VolumeSteps int
}

// Planner holds the fade settings.
type Planner struct {
	FadeSeconds  float64
	PreemptFade  time.Duration
	PreemptSteps int
}

// NewPlanner creates a planner.
func NewPlanner(fadeSeconds float64, preemptFade time.Duration, preemptSteps int) *Planner {
	if preemptSteps <= 0 {
		preemptSteps = 1
	}
	return &Planner{FadeSeconds: fadeSeconds, PreemptFade: preemptFade, PreemptSteps: preemptSteps}
}

// Plan computes the transition from current into next (nil when no next
// track is known). leadIn is the part of current already emitted by the
// previous crossfade.
func (p *Planner) Plan(current models.Track, next *models.Track, leadIn float64) Plan {
	dur := math.Max(0, current.DurationSeconds)
	fade := math.Max(0, p.FadeSeconds)

	plan := Plan{
		CurrentDuration: dur,
		StartOffset:     clamp(leadIn, 0, dur),
		FadeOutStart:    math.Max(0, dur-fade),
	}
	plan.FadeOutDuration = math.Min(fade, dur-plan.FadeOutStart)

	if next == nil || fade == 0 {
		return plan
	}

	overlap := math.Min(plan.FadeOutDuration, math.Max(0, next.DurationSeconds))
	if overlap <= 0 {
		return plan
	}
	plan.HasNext = true
	plan.FadeInStart = 0
	plan.FadeInDuration = fade
	if overlap < fade {
		// Short tracks: the fade-in cannot outlast what is mixed in.
		plan.FadeInDuration = overlap
	}
	plan.OverlapOffset = plan.FadeOutStart
	plan.NextTrim = overlap
	return plan
}

// Preempt builds a stepped fade to silence starting at position, used to cut
// a rotation track short for a due appointment.
func (p *Planner) Preempt(current models.Track, position float64) Plan {
	dur := math.Max(0, current.DurationSeconds)
	pos := clamp(position, 0, dur)
	return Plan{
		CurrentDuration: dur,
		StartOffset:     pos,
		FadeOutStart:    pos,
		FadeOutDuration: math.Min(p.PreemptFade.Seconds(), dur-pos),
		Preempt:         true,
		VolumeSteps:     p.PreemptSteps,
	}
}

// Length is the duration of the rendered output in seconds.
func (pl Plan) Length() float64 {
	if pl.Preempt {
		return pl.FadeOutDuration
	}
	return math.Max(0, pl.CurrentDuration-pl.StartOffset)
}

// FilterGraph renders the plan as an ffmpeg filter_complex graph. Input 0 is
// the current track (already seeked to StartOffset), input 1 the next track.
// The graph's output pad is [out].
func (pl Plan) FilterGraph() string {
	if pl.Preempt {
		steps := pl.VolumeSteps
		if steps <= 0 {
			steps = 1
		}
		step := pl.FadeOutDuration / float64(steps)
		if step <= 0 {
			return fmt.Sprintf("[0:a]volume=0,atrim=end=%s[out]", secs(pl.FadeOutDuration))
		}
		return fmt.Sprintf("[0:a]volume='max(0,1-floor(t/%s)/%d)':eval=frame,atrim=end=%s[out]",
			secs(step), steps, secs(pl.FadeOutDuration))
	}

	fadeOut := fmt.Sprintf("afade=t=out:st=%s:d=%s",
		secs(math.Max(0, pl.FadeOutStart-pl.StartOffset)), secs(pl.FadeOutDuration))

	if !pl.HasNext {
		if pl.FadeOutDuration <= 0 {
			return "[0:a]anull[out]"
		}
		return "[0:a]" + fadeOut + "[out]"
	}

	delayMS := int64(math.Round(math.Max(0, pl.OverlapOffset-pl.StartOffset) * 1000))
	parts := []string{
		"[0:a]" + fadeOut + "[cur]",
		fmt.Sprintf("[1:a]atrim=0:%s,asetpts=PTS-STARTPTS,afade=t=in:st=%s:d=%s,adelay=%d|%d[nxt]",
			secs(pl.NextTrim), secs(pl.FadeInStart), secs(pl.FadeInDuration), delayMS, delayMS),
		"[cur][nxt]amix=inputs=2:duration=longest:dropout_transition=0:normalize=0[out]",
	}
	return strings.Join(parts, ";")
}

func secs(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
