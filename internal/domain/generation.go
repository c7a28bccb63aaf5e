package domain

import (
	"math"
	"time"
)

// Status enumerates the lifecycle states shared by generations and visuals.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	DefaultAspectRatio = "1:1"
	DefaultResolution  = "1K"
)

// Visual is one image slot of a generation. It has no identity outside the
// owning generation's visuals slice.
type Visual struct {
	Index       int        `json:"index"`
	Type        string     `json:"type"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status"`
	ImageURL    string     `json:"image_url,omitempty"`
	MimeType    string     `json:"mime_type,omitempty"`
	Error       string     `json:"error,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// Clear returns the visual to PENDING, keeping prompt and type.
func (v *Visual) Clear() {
	v.Status = StatusPending
	v.ImageURL = ""
	v.MimeType = ""
	v.Error = ""
	v.GeneratedAt = nil
}

// Generation is the aggregate root of one batch run.
type Generation struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	ProductRef     string     `json:"product_ref"`
	StyleRef       string     `json:"style_ref"`
	CollectionRef  string     `json:"collection_ref,omitempty"`
	ProductName    string     `json:"product_name,omitempty"`
	CollectionName string     `json:"collection_name,omitempty"`
	AspectRatio    string     `json:"aspect_ratio"`
	Resolution     string     `json:"resolution"`
	ModelHint      string     `json:"model_hint,omitempty"`
	Status         Status     `json:"status"`
	Visuals        []Visual   `json:"visuals"`
	Progress       int        `json:"progress_percent"`
	CompletedCount int        `json:"completed_visuals_count"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// visuals slice held by a repository.
func (g *Generation) Clone() *Generation {
	if g == nil {
		return nil
	}
	out := *g
	out.Visuals = make([]Visual, len(g.Visuals))
	copy(out.Visuals, g.Visuals)
	return &out
}

// Total returns the number of visuals in the current run.
func (g *Generation) Total() int {
	return len(g.Visuals)
}

// Tally counts visuals by status.
func (g *Generation) Tally() (completed, failed int) {
	for _, v := range g.Visuals {
		switch v.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed
}

// Recompute refreshes the derived counters from the visuals slice. It must be
// called before every save so the counters never go stale.
func (g *Generation) Recompute() {
	completed, failed := g.Tally()
	g.CompletedCount = completed
	g.Progress = Percent(completed+failed, len(g.Visuals))
}

// Reset clears the run state so the same work list can be submitted again.
func (g *Generation) Reset() {
	g.Status = StatusPending
	g.CompletedAt = nil
	g.Error = ""
	for i := range g.Visuals {
		g.Visuals[i].Clear()
	}
	g.Recompute()
}

// Percent returns round(done/total*100), 0 when total is zero.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// AggregateStatus derives the terminal status of a run. A run is FAILED only
// when every visual failed; any success yields COMPLETED, including partial
// success.
func AggregateStatus(visuals []Visual) Status {
	if len(visuals) == 0 {
		return StatusFailed
	}
	for _, v := range visuals {
		if v.Status != StatusFailed {
			return StatusCompleted
		}
	}
	return StatusFailed
}
