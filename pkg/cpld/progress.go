package cpld

// Phase names a step of a long-running operation.
type Phase string

const (
	PhaseErase   Phase = "erase"
	PhaseProgram Phase = "program"
	PhaseVerify  Phase = "verify"
	PhaseRead    Phase = "read"
)

// Progress is reported once per page.
type Progress struct {
	Phase  Phase
	Region string
	Done   int
	Total  int
}

// Percent is Done as a share of Total.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Done) * 100 / float64(p.Total)
}

// ProgressFunc receives progress reports. It runs on the programming path
// and should return quickly.
type ProgressFunc func(Progress)
