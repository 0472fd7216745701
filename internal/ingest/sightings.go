package ingest

import (
	"strings"
	"time"

	"github.com/sells-group/adradar/internal/extract"
	"github.com/sells-group/adradar/internal/fingerprint"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/model"
)

// Sightings builds the lifecycle input for one pass from its observations.
// Observations without a content hash cannot be matched and are ignored.
func Sightings(observations []model.Observation) lifecycle.Sightings {
	seen := make(lifecycle.Sightings, len(observations))
	for i := range observations {
		obs := observations[i]
		normalize(&obs, time.Time{})
		hash, ok := fingerprint.ForObservation(&obs)
		if !ok {
			continue
		}
		seen.Add(hash, sightingOf(&obs))
	}
	return seen
}

func sightingOf(obs *model.Observation) lifecycle.Sighting {
	stop, _ := extract.ParseDatePtr(obs.DeliveryStopTime)
	status := model.DeliveryStatus(strings.ToUpper(strings.TrimSpace(string(obs.DeliveryStatus))))
	return lifecycle.Sighting{Status: status, StopTime: stop}
}
