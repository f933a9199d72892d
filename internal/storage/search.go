package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// ObjectInfo is the listing metadata for one stored artifact.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// maxSearchDays bounds how far back LatestVideo scans. Date-partitioned keys
// keep each day's listing cheap, but an unbounded backwards walk over an
// empty bucket would never terminate.
const maxSearchDays = 30

// LatestVideo returns the most recently stored video artifact. It walks date
// partitions backwards from today (UTC), returning the newest .mp4 in the
// first partition that has one.
func (s *ArtifactStore) LatestVideo(ctx context.Context) (ObjectInfo, error) {
	return s.latestVideoFrom(ctx, time.Now().UTC())
}

func (s *ArtifactStore) latestVideoFrom(ctx context.Context, now time.Time) (ObjectInfo, error) {
	for i := 0; i < maxSearchDays; i++ {
		prefix := now.AddDate(0, 0, -i).Format("2006-01-02") + "/"
		objects, err := s.List(ctx, prefix)
		if err != nil {
			return ObjectInfo{}, err
		}

		var videos []ObjectInfo
		for _, obj := range objects {
			if strings.HasSuffix(obj.Key, ".mp4") {
				videos = append(videos, obj)
			}
		}
		if len(videos) == 0 {
			continue
		}

		sort.Slice(videos, func(a, b int) bool {
			return videos[a].LastModified.After(videos[b].LastModified)
		})
		return videos[0], nil
	}

	return ObjectInfo{}, types.NewAppError(
		types.ErrCodeNotFoundVideo,
		fmt.Sprintf("no video artifacts found in the last %d days", maxSearchDays),
		nil,
	)
}

// FindEventByID locates the stored event artifact for a given event id within
// a date partition. Because the event id is the literal key prefix inside the
// partition, this is a prefix scan rather than a download-and-parse of every
// event file.
func (s *ArtifactStore) FindEventByID(ctx context.Context, date, eventID string) (ObjectInfo, error) {
	objects, err := s.List(ctx, fmt.Sprintf("%s/%s_", date, eventID))
	if err != nil {
		return ObjectInfo{}, err
	}
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".json") {
			return obj, nil
		}
	}
	return ObjectInfo{}, types.NewAppError(
		types.ErrCodeNotFoundEvent,
		fmt.Sprintf("no event artifact for id %s on %s", eventID, date),
		nil,
	)
}

// DaySummary aggregates stored artifacts for one date partition.
type DaySummary struct {
	Date        string         `json:"date"`
	EventCount  int            `json:"eventCount"`
	VideoCount  int            `json:"videoCount"`
	DeviceCount map[string]int `json:"deviceCounts"`
}

// Summarize aggregates artifact counts per device for the given number of
// trailing days. The derived key structure ({date}/{eventId}_{device}_{ts})
// carries the facts, so no object downloads are needed.
func (s *ArtifactStore) Summarize(ctx context.Context, days int) ([]DaySummary, error) {
	return s.summarizeFrom(ctx, time.Now().UTC(), days)
}

func (s *ArtifactStore) summarizeFrom(ctx context.Context, now time.Time, days int) ([]DaySummary, error) {
	if days <= 0 {
		days = 7
	}

	var summaries []DaySummary
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		objects, err := s.List(ctx, date+"/")
		if err != nil {
			return nil, err
		}
		if len(objects) == 0 {
			continue
		}

		summary := DaySummary{
			Date:        date,
			DeviceCount: map[string]int{},
		}
		for _, obj := range objects {
			switch {
			case strings.HasSuffix(obj.Key, ".json"):
				summary.EventCount++
				if device := deviceFromKey(obj.Key); device != "" {
					summary.DeviceCount[device]++
				}
			case strings.HasSuffix(obj.Key, ".mp4"):
				summary.VideoCount++
			}
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// deviceFromKey extracts the device segment from a derived key of the form
// {date}/{eventId}_{device}_{timestamp}.{ext}. Returns "" for keys that do
// not match the derived shape.
func deviceFromKey(key string) string {
	_, name, ok := strings.Cut(key, "/")
	if !ok {
		return ""
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
