package xcond

import "time"

// Deadline is an absolute wall-clock wake time in seconds and
// nanoseconds since the epoch. TimedWait validates it before touching
// the mutex or the queue: Sec must be non-negative and Nsec must lie in
// [0, 1e9).
type Deadline struct {
	Sec  int64
	Nsec int64
}

// At converts a time.Time into a Deadline.
func At(t time.Time) Deadline {
	return Deadline{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (d Deadline) valid() bool {
	return d.Sec >= 0 && d.Nsec >= 0 && d.Nsec < int64(time.Second)
}

func (d Deadline) time() time.Time {
	return time.Unix(d.Sec, d.Nsec)
}
