package presence

// Status is the top-level presence state reported by the upstream feed.
type Status string

const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
	StatusOffline      Status = "offline"
)

// ActivityTypeListening marks the media activity kind that is extracted
// into a MediaSession instead of the plain activity list.
const ActivityTypeListening = 2

type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type Activity struct {
	ID            string      `json:"id,omitempty"`
	Name          string      `json:"name"`
	Type          int         `json:"type"`
	URL           string      `json:"url,omitempty"`
	CreatedAt     int64       `json:"created_at,omitempty"`
	Timestamps    *Timestamps `json:"timestamps,omitempty"`
	ApplicationID string      `json:"application_id,omitempty"`
	Details       string      `json:"details,omitempty"`
	State         string      `json:"state,omitempty"`
	Assets        *Assets     `json:"assets,omitempty"`
	Flags         int         `json:"flags,omitempty"`
}

// MediaSession is a currently-valid listening activity pulled out of the
// activity list.
type MediaSession struct {
	TrackID     string     `json:"track_id"`
	Timestamps  Timestamps `json:"timestamps"`
	Song        string     `json:"song"`
	Artist      string     `json:"artist"`
	Album       string     `json:"album"`
	AlbumArtURL string     `json:"album_art_url"`
}

// Profile is the secondary per-identity lookup merged into each record.
type Profile struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
	Flags         int    `json:"flags,omitempty"`
}

// ClientStatus maps each client surface to its reported status. A surface
// missing from the upstream payload decodes to the empty string.
type ClientStatus struct {
	Web     Status `json:"web,omitempty"`
	Desktop Status `json:"desktop,omitempty"`
	Mobile  Status `json:"mobile,omitempty"`
}

// Update is the raw presence event as decoded off the upstream feed.
type Update struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Status       Status       `json:"status"`
	ClientStatus ClientStatus `json:"client_status"`
	Activities   []Activity   `json:"activities"`
}

// Record is the normalized last-known state for one identity.
type Record struct {
	User             Profile           `json:"user"`
	Status           Status            `json:"status"`
	Activities       []Activity        `json:"activities"`
	ListeningToMedia bool              `json:"listening_to_media"`
	Media            *MediaSession     `json:"media"`
	ActiveOnWeb      bool              `json:"active_on_web"`
	ActiveOnDesktop  bool              `json:"active_on_desktop"`
	ActiveOnMobile   bool              `json:"active_on_mobile"`
	Badges           []string          `json:"badges"`
	KV               map[string]string `json:"kv"`
}

// Clone returns a copy that shares no mutable state with r.
func (r Record) Clone() Record {
	out := r
	out.Activities = append([]Activity(nil), r.Activities...)
	out.Badges = append([]string(nil), r.Badges...)
	if r.Media != nil {
		m := *r.Media
		out.Media = &m
	}
	out.KV = make(map[string]string, len(r.KV))
	for k, v := range r.KV {
		out.KV[k] = v
	}
	return out
}
