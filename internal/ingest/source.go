package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/model"
)

// Source yields one batch of scrape observations.
type Source interface {
	Observations(ctx context.Context) ([]model.Observation, error)
}

// SliceSource serves observations already in memory.
type SliceSource []model.Observation

// Observations returns the slice.
func (s SliceSource) Observations(_ context.Context) ([]model.Observation, error) {
	return s, nil
}

const maxLineBytes = 4 << 20

// JSONLSource reads newline-delimited JSON observations. Malformed lines are
// logged and skipped.
type JSONLSource struct {
	r       io.Reader
	name    string
	skipped int
}

// NewJSONLSource reads observations from r.
func NewJSONLSource(r io.Reader, name string) *JSONLSource {
	return &JSONLSource{r: r, name: name}
}

// Skipped returns the number of malformed lines seen so far.
func (s *JSONLSource) Skipped() int {
	return s.skipped
}

// Observations decodes every line.
func (s *JSONLSource) Observations(ctx context.Context) ([]model.Observation, error) {
	log := zap.L().With(zap.String("source", s.name))
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)

	var out []model.Observation
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var obs model.Observation
		if err := json.Unmarshal(raw, &obs); err != nil {
			s.skipped++
			log.Warn("skipping malformed observation", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, obs)
	}
	if err := sc.Err(); err != nil {
		return out, eris.Wrapf(err, "ingest: read %s", s.name)
	}
	return out, nil
}
