package presence

import (
	"strings"
	"time"
)

// Build normalizes a raw upstream update into a Record. It is a pure
// function: annotations from the existing record are carried forward
// untouched and persisting the result is the caller's job.
func Build(u Update, profile Profile, existing *Record, now time.Time) Record {
	media := extractMediaSession(u.Activities, now)

	activities := make([]Activity, 0, len(u.Activities))
	for _, a := range u.Activities {
		if a.Type == ActivityTypeListening {
			continue
		}
		activities = append(activities, a)
	}

	kv := map[string]string{}
	if existing != nil {
		for k, v := range existing.KV {
			kv[k] = v
		}
	}

	return Record{
		User:             profile,
		Status:           u.Status,
		Activities:       activities,
		ListeningToMedia: media != nil,
		Media:            media,
		ActiveOnWeb:      activeOnSurface(u.ClientStatus.Web),
		ActiveOnDesktop:  activeOnSurface(u.ClientStatus.Desktop),
		ActiveOnMobile:   activeOnSurface(u.ClientStatus.Mobile),
		Badges:           ResolveBadges(profile.Flags),
		KV:               kv,
	}
}

// activeOnSurface is true when the surface explicitly reported any status,
// including offline. A surface absent from the payload is not active.
func activeOnSurface(s Status) bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDoNotDisturb, StatusOffline:
		return true
	default:
		return false
	}
}

// extractMediaSession returns the first listening activity that is inside
// its validity window, or nil.
func extractMediaSession(activities []Activity, now time.Time) *MediaSession {
	for _, a := range activities {
		if a.Type != ActivityTypeListening || a.ID == "" {
			continue
		}
		if a.Timestamps == nil || a.Timestamps.Start == 0 || a.Timestamps.End == 0 {
			continue
		}
		ms := now.UnixMilli()
		if ms < a.Timestamps.Start || ms > a.Timestamps.End {
			continue
		}
		return &MediaSession{
			TrackID:     a.ID,
			Timestamps:  *a.Timestamps,
			Song:        orUnknown(a.Details, "Unknown Song"),
			Artist:      orUnknown(a.State, "Unknown Artist"),
			Album:       albumOf(a.Assets),
			AlbumArtURL: albumArtURL(a.Assets),
		}
	}
	return nil
}

func orUnknown(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func albumOf(assets *Assets) string {
	if assets == nil {
		return "Unknown Album"
	}
	return orUnknown(assets.LargeText, "Unknown Album")
}

func albumArtURL(assets *Assets) string {
	if assets == nil || assets.LargeImage == "" {
		return ""
	}
	// Artwork references arrive as "spotify:<hash>".
	return "https://i.scdn.co/image/" + strings.TrimPrefix(assets.LargeImage, "spotify:")
}

var badgeFlags = []struct {
	name string
	bit  int
}{
	{"STAFF", 1 << 0},
	{"PARTNER", 1 << 1},
	{"HYPESQUAD", 1 << 2},
	{"BUGHUNTER", 1 << 3},
	{"HYPESQUAD_EVENTS", 1 << 6},
	{"PREFERRED_LANGUAGE", 1 << 7},
	{"NOTIFICATIONS", 1 << 8},
}

// ResolveBadges expands an account flag bitfield into badge names.
func ResolveBadges(flags int) []string {
	badges := []string{}
	for _, f := range badgeFlags {
		if flags&f.bit != 0 {
			badges = append(badges, f.name)
		}
	}
	return badges
}
