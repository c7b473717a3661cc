package generator

import (
	"context"
	"math/rand"
	"regexp"
	"strings"

	"postflow/internal/domain"
)

// Request describes what the user wants to post about.
type Request struct {
	Topic        string
	Platform     domain.Platform
	Mood         string
	CallToAction string
}

// Generated is a piece of content ready for review.
type Generated struct {
	Content           string
	Hashtags          []string
	AuthenticityScore float64
}

// Generator produces content for a platform. Callers treat any error or empty
// content as "use the fallback" without inspecting why.
type Generator interface {
	Generate(ctx context.Context, req Request) (Generated, error)
}

var templates = map[domain.Platform][]string{
	domain.PlatformX: {
		"🚀 %s\n\nBuild. Ship. Learn.\n\nThat's the only loop that matters.\n\n👇 What are you shipping this week?",
		"Just thinking about: %s\n\nSometimes you just have to dive in and figure it out along the way.\n\n#buildinpublic #founder",
	},
	domain.PlatformLinkedIn: {
		"Thinking about: %s\n\nIt's easy to get caught up in the noise, but sometimes the signal is right in front of us.\n\nWhat's your take? 👇\n\n#innovation #strategy #growth",
		"🚀 Major update: %s\n\nBuilding in public has taught us one thing: Transparency wins.\n\n#buildinginpublic #startups",
	},
	domain.PlatformDiscord: {
		"📢 **Community Update**\n\n**Topic:** %s\n\nWe wanted to share this with you all first because this community drives everything we do.\n\nWhat's your take? 👇",
		"🚀 **Just Dropped**\n\nWe're exploring: **%s**\n\nLet's discuss in the chat! 💬",
	},
	domain.PlatformInstagram: {
		"✨ %s\n\nAlways building. Always learning. 🌱\n\n#founder #startup #tech #growth",
		"Behind the scenes: %s 📸\n\n#entrepreneurlife #hustle",
	},
	domain.PlatformFacebook: {
		"Update: %s\n\nWe're making progress every single day. Thanks for being part of the journey! 🙏",
		"%s\n\nBig things coming. Stay tuned! ✨",
	},
	domain.PlatformYouTube: {
		"%s\n\nFull breakdown in this video. Like and subscribe for more!",
	},
}

var hashtagRe = regexp.MustCompile(`#\w+`)

// ExtractHashtags returns the distinct hashtags found in content, without the
// leading '#', in order of first appearance.
func ExtractHashtags(content string) []string {
	seen := map[string]bool{}
	var tags []string
	for _, m := range hashtagRe.FindAllString(content, -1) {
		tag := strings.TrimPrefix(m, "#")
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// Templates is the fallback generator: canned per-platform copy with the
// topic spliced in. Used when no AI backend is configured or it fails.
type Templates struct {
	rand *rand.Rand
}

func NewTemplates(seed int64) *Templates {
	return &Templates{rand: rand.New(rand.NewSource(seed))}
}

func (t *Templates) Generate(ctx context.Context, req Request) (Generated, error) {
	options, ok := templates[req.Platform]
	if !ok {
		options = templates[domain.PlatformX]
	}
	tpl := options[t.rand.Intn(len(options))]
	content := strings.Replace(tpl, "%s", req.Topic, 1)
	if req.CallToAction != "" {
		content += "\n\n" + req.CallToAction
	}

	score := 0.7
	if req.Mood != "" {
		score += 0.05
	}
	return Generated{
		Content:           content,
		Hashtags:          ExtractHashtags(content),
		AuthenticityScore: score,
	}, nil
}
