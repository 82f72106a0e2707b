package replay

import "time"

const viewableTimeLayout = "2006-01-02T15:04:05"

// Viewable projects the canonical replay into the viewer format:
// actions and rewards become positional lists in metadata agent order,
// timestamps become formatted strings, empty collections are dropped.
// The projection is lossy; the canonical document stays authoritative.
func (rp *Replay) Viewable() *ViewableReplay {
	v := &ViewableReplay{
		Metadata: ViewableMetadata{
			Environment: rp.Metadata.Environment,
			MatchID:     rp.Metadata.MatchID,
			Agents:      rp.Metadata.Agents,
		},
		NumFrames: len(rp.Frames),
		StartTime: formatUnix(rp.Metadata.StartTime),
	}

	if rp.Metadata.EndTime != nil {
		v.EndTime = formatUnix(*rp.Metadata.EndTime)
		d := *rp.Metadata.EndTime - rp.Metadata.StartTime
		v.Duration = &d
	}

	v.Frames = make([]ViewableFrame, 0, len(rp.Frames))
	for _, f := range rp.Frames {
		vf := ViewableFrame{
			Step:  f.FrameNumber,
			State: f.Observations,
			Info:  f.Info,
		}
		if len(f.Actions) > 0 {
			vf.Actions = make([]any, len(rp.Metadata.Agents))
			for i, agent := range rp.Metadata.Agents {
				vf.Actions[i] = f.Actions[agent]
			}
		}
		if len(f.Rewards) > 0 {
			vf.Rewards = make([]float64, len(rp.Metadata.Agents))
			for i, agent := range rp.Metadata.Agents {
				vf.Rewards[i] = f.Rewards[agent]
			}
		}
		v.Frames = append(v.Frames, vf)
	}
	return v
}

func formatUnix(sec float64) string {
	n := int64(sec * float64(time.Second))
	return time.Unix(0, n).UTC().Format(viewableTimeLayout)
}
