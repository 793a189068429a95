package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SyncSettings is a point-in-time snapshot of the live sync configuration.
type SyncSettings struct {
	Enabled                 bool
	SyncCommentsFromRemote  bool
	AllCategories           bool
	EnabledCategories       string // pipe-delimited category ids
	Tags                    string // pipe-delimited ticket tags
	WebhookToken            string
	SignatureRegex          string
	PushOnlyAuthorPosts     bool
	PushAllPosts            bool
	AppendAttachments       bool
	MiscategorizationNotice string
	JobsEmail               string
	JobsAPIToken            string
	RemoteURL               string
	Hostname                string
	SyncTag                 string
}

// JobsConfigured reports whether the service account used by outbound jobs
// has credentials.
func (s SyncSettings) JobsConfigured() bool {
	return s.JobsEmail != "" && s.JobsAPIToken != ""
}

// TagList splits Tags on '|', dropping empty entries.
func (s SyncSettings) TagList() []string {
	return SplitPipeList(s.Tags)
}

// Provider hands out the current SyncSettings. Implementations must not cache
// across calls: settings may change between two reads.
type Provider interface {
	Settings() SyncSettings
}

// ViperProvider reads the sync.* keys from viper on every call.
type ViperProvider struct {
	v *viper.Viper
}

// NewViperProvider returns a Provider over vp. When watch is true and a config
// file is in use, edits to the file are picked up without a restart.
func NewViperProvider(vp *viper.Viper, watch bool) *ViperProvider {
	if watch && vp.ConfigFileUsed() != "" {
		vp.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("Config file changed: %s", e.Name)
		})
		vp.WatchConfig()
	}
	return &ViperProvider{v: vp}
}

func (p *ViperProvider) Settings() SyncSettings {
	return SyncSettings{
		Enabled:                 p.v.GetBool("sync.enabled"),
		SyncCommentsFromRemote:  p.v.GetBool("sync.sync_comments_from_remote"),
		AllCategories:           p.v.GetBool("sync.all_categories"),
		EnabledCategories:       p.v.GetString("sync.enabled_categories"),
		Tags:                    p.v.GetString("sync.tags"),
		WebhookToken:            p.v.GetString("sync.webhook_token"),
		SignatureRegex:          p.v.GetString("sync.signature_regex"),
		PushOnlyAuthorPosts:     p.v.GetBool("sync.push_only_author_posts"),
		PushAllPosts:            p.v.GetBool("sync.push_all_posts"),
		AppendAttachments:       p.v.GetBool("sync.append_attachments"),
		MiscategorizationNotice: p.v.GetString("sync.miscategorization_notice"),
		JobsEmail:               p.v.GetString("sync.jobs_email"),
		JobsAPIToken:            p.v.GetString("sync.jobs_api_token"),
		RemoteURL:               p.v.GetString("sync.remote_url"),
		Hostname:                p.v.GetString("sync.hostname"),
		SyncTag:                 p.v.GetString("sync.sync_tag"),
	}
}

// StaticProvider adapts a function to Provider. Tests mutate the captured
// settings between calls to simulate live edits.
type StaticProvider func() SyncSettings

func (f StaticProvider) Settings() SyncSettings { return f() }

// Fixed returns a Provider that always yields s.
func Fixed(s SyncSettings) Provider {
	return StaticProvider(func() SyncSettings { return s })
}

// SplitPipeList splits a pipe-delimited setting value into trimmed,
// non-empty entries.
func SplitPipeList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
