package catalog

// Platform identifies which streaming provider a track belongs to.
type Platform string

const (
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
)

// Valid reports whether p is one of the known providers.
func (p Platform) Valid() bool {
	return p == PlatformSpotify || p == PlatformSoundCloud
}

// Track is an immutable description of a playable track as returned by
// search or read back from the hub. It is never mutated, only replaced.
type Track struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	ArtworkURL string   `json:"artwork_url"`
	DurationMs int      `json:"duration_ms"`
	SourceURI  string   `json:"source_uri"`
	Platform   Platform `json:"platform"`
}

// QueueEntry is one orderable occurrence of a Track in the playback queue.
// EntryID is assigned by the hub (or provisionally by the client before the
// hub confirms) and is distinct from the track's own id, since the same
// track may be queued more than once.
type QueueEntry struct {
	EntryID string `json:"entry_id"`
	Track   Track  `json:"track"`
}

// SearchResults holds per-provider track results. The two providers are
// queried independently; neither blocks the other.
type SearchResults struct {
	Spotify    []Track
	SoundCloud []Track
}

// Tracks returns all results flattened, Spotify first.
func (r SearchResults) Tracks() []Track {
	out := make([]Track, 0, len(r.Spotify)+len(r.SoundCloud))
	out = append(out, r.Spotify...)
	out = append(out, r.SoundCloud...)
	return out
}
