// Package robots parses robots.txt, meta-robots and X-Robots-Tag
// directives and folds them into the single PageDirectives verdict
// Cache and the orchestrator's worker loop actually consume: may this
// host be fetched at all, and once fetched, may its outbound links be
// followed and its content indexed.
package robots

import (
	"bufio"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Txt is a parsed robots.txt document, keyed by lowercased user-agent.
type Txt struct {
	rules map[string]*agentRules

	Sitemaps []string
	Host     string
	Raw      string
}

type agentRules struct {
	userAgent  string
	allow      []string
	disallow   []string
	crawlDelay time.Duration

	allowPatterns    []*regexp.Regexp
	disallowPatterns []*regexp.Regexp
}

func newTxt() *Txt {
	return &Txt{rules: make(map[string]*agentRules)}
}

// Parse reads robots.txt content into a Txt. Directives outside a
// recognized block, and malformed lines, are silently skipped per
// the de-facto convention every crawler follows: robots.txt producers
// are not held to a strict grammar.
func Parse(content string) *Txt {
	rt := newTxt()
	rt.Raw = content

	scanner := bufio.NewScanner(strings.NewReader(content))
	var group []string
	groupOpen := true // a fresh User-agent line extends the current group only while it stays open

	for scanner.Scan() {
		directive, value, ok := splitDirective(scanner.Text())
		if !ok {
			continue
		}

		switch directive {
		case "user-agent":
			agent := strings.ToLower(value)
			if !groupOpen {
				group = nil
				groupOpen = true
			}
			group = append(group, agent)
			rt.ensureAgent(agent)

		case "disallow":
			groupOpen = false
			for _, agent := range group {
				rules := rt.rules[agent]
				rules.disallow = append(rules.disallow, value)
				if p := compilePattern(value); p != nil {
					rules.disallowPatterns = append(rules.disallowPatterns, p)
				}
			}

		case "allow":
			groupOpen = false
			for _, agent := range group {
				rules := rt.rules[agent]
				rules.allow = append(rules.allow, value)
				if p := compilePattern(value); p != nil {
					rules.allowPatterns = append(rules.allowPatterns, p)
				}
			}

		case "crawl-delay":
			groupOpen = false
			delay, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			for _, agent := range group {
				rt.rules[agent].crawlDelay = time.Duration(delay * float64(time.Second))
			}

		case "sitemap":
			rt.Sitemaps = append(rt.Sitemaps, value)

		case "host":
			rt.Host = value
		}
	}

	return rt
}

func (rt *Txt) ensureAgent(agent string) {
	if _, ok := rt.rules[agent]; !ok {
		rt.rules[agent] = &agentRules{userAgent: agent}
	}
}

// splitDirective extracts a lowercased directive name and its value
// from one robots.txt line, stripping comments and blanks.
func splitDirective(line string) (directive, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	if idx := strings.Index(line, "#"); idx != -1 {
		line = strings.TrimSpace(line[:idx])
	}

	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1]), true
}

// IsAllowed reports whether urlPath is allowed for userAgent. No
// matching rules at all means allowed, per the robots.txt convention
// that absence of a file (or of rules for this agent) imposes no
// restriction.
func (rt *Txt) IsAllowed(userAgent, urlPath string) bool {
	rules := rt.rulesFor(userAgent)
	if rules == nil {
		return true
	}
	if urlPath == "" {
		urlPath = "/"
	}

	allowMatch := bestMatch(rules.allow, rules.allowPatterns, urlPath)
	disallowMatch := bestMatch(rules.disallow, rules.disallowPatterns, urlPath)

	if disallowMatch == "" {
		return true
	}
	if allowMatch == "" {
		return false
	}
	// Longer, more specific pattern wins a tie between Allow and Disallow.
	return len(allowMatch) >= len(disallowMatch)
}

// GetCrawlDelay returns the Crawl-delay directive for userAgent, or 0.
func (rt *Txt) GetCrawlDelay(userAgent string) time.Duration {
	rules := rt.rulesFor(userAgent)
	if rules == nil {
		return 0
	}
	return rules.crawlDelay
}

func (rt *Txt) rulesFor(userAgent string) *agentRules {
	userAgent = strings.ToLower(userAgent)

	if rules, ok := rt.rules[userAgent]; ok {
		return rules
	}
	for agent, rules := range rt.rules {
		if strings.Contains(userAgent, agent) || strings.Contains(agent, userAgent) {
			return rules
		}
	}
	return rt.rules["*"]
}

func bestMatch(patterns []string, compiled []*regexp.Regexp, path string) string {
	var best string
	for i, pattern := range patterns {
		if pattern == "" {
			continue
		}
		matched := false
		if i < len(compiled) && compiled[i] != nil {
			matched = compiled[i].MatchString(path)
		} else if !strings.Contains(pattern, "*") {
			matched = strings.HasPrefix(path, pattern)
		}
		if matched && len(pattern) > len(best) {
			best = pattern
		}
	}
	return best
}

// compilePattern turns a robots.txt Allow/Disallow pattern into a
// prefix-anchored regex: "*" becomes ".*", a trailing "$" anchors the
// end.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	if strings.HasSuffix(escaped, `\$`) {
		escaped = escaped[:len(escaped)-2] + "$"
	}
	re, err := regexp.Compile("^" + escaped)
	if err != nil {
		return nil
	}
	return re
}

// MetaRobots is a parsed <meta name="robots"> or X-Robots-Tag
// directive set.
type MetaRobots struct {
	NoIndex         bool
	NoFollow        bool
	NoArchive       bool
	NoSnippet       bool
	NoImageIndex    bool
	NoTranslate     bool
	MaxSnippet      int // -1 = not set
	MaxImagePreview string
	MaxVideoPreview int // -1 = not set
	Raw             string
}

// ParseMetaRobots parses one comma-separated directive string.
func ParseMetaRobots(content string) *MetaRobots {
	m := &MetaRobots{MaxSnippet: -1, MaxVideoPreview: -1, Raw: content}

	for _, d := range strings.Split(strings.ToLower(strings.TrimSpace(content)), ",") {
		d = strings.TrimSpace(d)
		switch {
		case d == "noindex":
			m.NoIndex = true
		case d == "nofollow":
			m.NoFollow = true
		case d == "noarchive":
			m.NoArchive = true
		case d == "nosnippet":
			m.NoSnippet = true
		case d == "noimageindex":
			m.NoImageIndex = true
		case d == "notranslate":
			m.NoTranslate = true
		case d == "none":
			m.NoIndex = true
			m.NoFollow = true
		case d == "all":
		case strings.HasPrefix(d, "max-snippet:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(d, "max-snippet:")); err == nil {
				m.MaxSnippet = v
			}
		case strings.HasPrefix(d, "max-image-preview:"):
			m.MaxImagePreview = strings.TrimPrefix(d, "max-image-preview:")
		case strings.HasPrefix(d, "max-video-preview:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(d, "max-video-preview:")); err == nil {
				m.MaxVideoPreview = v
			}
		}
	}
	return m
}

// mergeStricter ORs every restrictive field of other into m: directives
// accumulate, they never relax one another.
func (m *MetaRobots) mergeStricter(other *MetaRobots) {
	m.NoIndex = m.NoIndex || other.NoIndex
	m.NoFollow = m.NoFollow || other.NoFollow
	m.NoArchive = m.NoArchive || other.NoArchive
	m.NoSnippet = m.NoSnippet || other.NoSnippet
	m.NoImageIndex = m.NoImageIndex || other.NoImageIndex
	m.NoTranslate = m.NoTranslate || other.NoTranslate
	if other.MaxSnippet >= 0 && (m.MaxSnippet < 0 || other.MaxSnippet < m.MaxSnippet) {
		m.MaxSnippet = other.MaxSnippet
	}
	if other.MaxVideoPreview >= 0 && (m.MaxVideoPreview < 0 || other.MaxVideoPreview < m.MaxVideoPreview) {
		m.MaxVideoPreview = other.MaxVideoPreview
	}
	if other.MaxImagePreview != "" {
		m.MaxImagePreview = other.MaxImagePreview
	}
}

// IsIndexable reports whether the page may be indexed.
func (m *MetaRobots) IsIndexable() bool { return !m.NoIndex }

// IsFollowable reports whether outbound links on the page may be followed.
func (m *MetaRobots) IsFollowable() bool { return !m.NoFollow }

// XRobotsTag is a parsed set of X-Robots-Tag response header values,
// which may carry per-user-agent directives.
type XRobotsTag struct {
	Directives map[string]*MetaRobots
	Default    *MetaRobots
	Raw        string
}

// ParseXRobotsTag parses every X-Robots-Tag header value present on a
// response.
func ParseXRobotsTag(values []string) *XRobotsTag {
	tag := &XRobotsTag{Directives: make(map[string]*MetaRobots), Raw: strings.Join(values, ", ")}

	for _, value := range values {
		value = strings.TrimSpace(value)

		if idx := strings.Index(value, ":"); idx != -1 {
			agent := strings.TrimSpace(value[:idx])
			if !strings.Contains(agent, " ") && !strings.HasPrefix(strings.ToLower(agent), "max-") {
				directives := ParseMetaRobots(strings.TrimSpace(value[idx+1:]))
				agent = strings.ToLower(agent)
				if existing, ok := tag.Directives[agent]; ok {
					existing.mergeStricter(directives)
				} else {
					tag.Directives[agent] = directives
				}
				continue
			}
		}

		parsed := ParseMetaRobots(value)
		if tag.Default == nil {
			tag.Default = parsed
		} else {
			tag.Default.mergeStricter(parsed)
		}
	}

	return tag
}

// GetDirectives returns the directives that apply to userAgent.
func (x *XRobotsTag) GetDirectives(userAgent string) *MetaRobots {
	userAgent = strings.ToLower(userAgent)
	if directives, ok := x.Directives[userAgent]; ok {
		return directives
	}
	for agent, directives := range x.Directives {
		if strings.Contains(userAgent, agent) {
			return directives
		}
	}
	return x.Default
}

// PageDirectives is the merged verdict from a page's <meta
// name="robots"> tag and its response's X-Robots-Tag header(s): the
// single answer the orchestrator needs after a page has been fetched.
type PageDirectives struct {
	Indexable  bool
	Followable bool
}

// CombinePageDirectives merges a page's meta-robots content (possibly
// empty) with its response's X-Robots-Tag values (possibly empty) for
// userAgent. Either source alone is sufficient to restrict; nothing
// present on either means fully indexable and followable.
func CombinePageDirectives(metaRobotsContent string, xRobotsTagValues []string, userAgent string) PageDirectives {
	merged := &MetaRobots{MaxSnippet: -1, MaxVideoPreview: -1}

	if strings.TrimSpace(metaRobotsContent) != "" {
		merged.mergeStricter(ParseMetaRobots(metaRobotsContent))
	}
	if len(xRobotsTagValues) > 0 {
		if d := ParseXRobotsTag(xRobotsTagValues).GetDirectives(userAgent); d != nil {
			merged.mergeStricter(d)
		}
	}

	return PageDirectives{Indexable: merged.IsIndexable(), Followable: merged.IsFollowable()}
}

// ExtractPathFromURL extracts the path (plus query string) robots.txt
// matching operates on.
func ExtractPathFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
