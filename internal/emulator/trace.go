package emulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// SetpointChange changes the target temperature before the given step.
type SetpointChange struct {
	Step  int
	Value float64
}

// Trace advances u by dt for steps iterations and writes one CSV record per
// step: elapsed seconds, room temperature, setpoint, power and compressor
// frequency.
func Trace(w io.Writer, u *Unit, steps int, dt time.Duration, changes []SetpointChange) error {
	if steps <= 0 || dt <= 0 {
		return fmt.Errorf("trace needs positive steps and dt, got %d and %v", steps, dt)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"elapsed_s", "room", "setpoint", "power", "compressor_hz"}); err != nil {
		return err
	}

	for i := 1; i <= steps; i++ {
		for _, c := range changes {
			if c.Step == i {
				s := u.Settings()
				s.Temperature = c.Value
				u.SetSettings(s)
			}
		}

		u.mu.Lock()
		s := u.settings
		room := u.room
		hz := u.statusLocked().CompressorFrequency
		u.mu.Unlock()

		err := cw.Write([]string{
			strconv.FormatFloat(dt.Seconds()*float64(i-1), 'f', 0, 64),
			strconv.FormatFloat(room, 'f', 2, 64),
			strconv.FormatFloat(s.Temperature, 'f', 1, 64),
			strconv.FormatBool(s.Power),
			strconv.Itoa(hz),
		})
		if err != nil {
			return err
		}
		u.Advance(dt)
	}

	cw.Flush()
	return cw.Error()
}
