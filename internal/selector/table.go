// Package selector holds the static table of price, title and image
// selectors and evaluates it as an ordered cascade of tiers.
package selector

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.yaml.in/yaml/v3"
)

//go:embed sites.yaml
var defaultTable []byte

// Selectors are the selector lists an entry may carry.
type Selectors struct {
	Current  []string `yaml:"current"`
	Original []string `yaml:"original"`
	Title    []string `yaml:"title"`
	Image    []string `yaml:"image"`
}

// VariantRules describe how a site encodes the selected options.
type VariantRules struct {
	// Params maps a variant field (size, color, style) to query parameter names.
	Params map[string][]string `yaml:"params"`

	// IDs maps a variant field to a table of opaque option ids and their labels.
	IDs map[string]map[string]string `yaml:"ids"`

	// Selectors maps a variant field to CSS selectors of the selected option.
	Selectors map[string][]string `yaml:"selectors"`
}

// Site is an exact-hostname entry.
type Site struct {
	Name      string       `yaml:"name"`
	Hosts     []string     `yaml:"hosts"`
	Selectors `yaml:",inline"`
	Variants  VariantRules `yaml:"variants"`

	rules compiled
}

// Platform is an e-commerce platform recognized by markup signatures.
type Platform struct {
	Name       string       `yaml:"name"`
	Signatures []string     `yaml:"signatures"`
	Selectors  `yaml:",inline"`
	Variants   VariantRules `yaml:"variants"`

	signatures []Rule
	rules      compiled
}

// Generic is the catch-all tier.
type Generic struct {
	Selectors `yaml:",inline"`
	Exclude   []string `yaml:"exclude"`

	rules compiled
}

type compiled struct {
	current  []Rule
	original []Rule
	title    []Rule
	image    []Rule
}

// Table is the loaded selector table.
type Table struct {
	Sites     []*Site     `yaml:"sites"`
	Platforms []*Platform `yaml:"platforms"`
	Generic   Generic     `yaml:"generic"`

	byHost     map[string]*Site
	strategies []Strategy
}

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load returns the built-in table, extended by the YAML file at
// overridePath when one is given. Override sites and platforms take
// precedence over built-in entries; non-empty generic lists replace the
// built-in ones.
func Load(overridePath string) (*Table, error) {
	base, err := Default()
	if err != nil {
		return nil, fmt.Errorf("built-in site table: %w", err)
	}
	if overridePath == "" {
		return base, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("read site table %s: %w", overridePath, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("site table %s: %w", overridePath, err)
	}

	merged := &Table{
		Sites:     append(append([]*Site{}, override.Sites...), base.Sites...),
		Platforms: append(append([]*Platform{}, override.Platforms...), base.Platforms...),
		Generic:   base.Generic,
	}
	g := override.Generic
	if len(g.Current) > 0 {
		merged.Generic.Current = g.Current
	}
	if len(g.Original) > 0 {
		merged.Generic.Original = g.Original
	}
	if len(g.Title) > 0 {
		merged.Generic.Title = g.Title
	}
	if len(g.Image) > 0 {
		merged.Generic.Image = g.Image
	}
	if len(g.Exclude) > 0 {
		merged.Generic.Exclude = g.Exclude
	}

	if err := merged.compile(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Parse decodes and compiles a YAML selector table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode site table: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) compile() error {
	t.byHost = make(map[string]*Site)
	for _, s := range t.Sites {
		if len(s.Hosts) == 0 {
			return fmt.Errorf("site %q has no hosts", s.Name)
		}
		rules, err := compileSelectors(s.Selectors)
		if err != nil {
			return fmt.Errorf("site %q: %w", s.Name, err)
		}
		s.rules = rules
		for _, h := range s.Hosts {
			h = normalizeHost(h)
			// First entry wins so overrides shadow built-ins.
			if _, exists := t.byHost[h]; !exists {
				t.byHost[h] = s
			}
		}
	}

	for _, p := range t.Platforms {
		if len(p.Signatures) == 0 {
			return fmt.Errorf("platform %q has no signatures", p.Name)
		}
		sigs, err := ParseRules(p.Signatures)
		if err != nil {
			return fmt.Errorf("platform %q signatures: %w", p.Name, err)
		}
		rules, err := compileSelectors(p.Selectors)
		if err != nil {
			return fmt.Errorf("platform %q: %w", p.Name, err)
		}
		p.signatures = sigs
		p.rules = rules
	}

	rules, err := compileSelectors(t.Generic.Selectors)
	if err != nil {
		return fmt.Errorf("generic tier: %w", err)
	}
	t.Generic.rules = rules
	for i, kw := range t.Generic.Exclude {
		t.Generic.Exclude[i] = strings.ToLower(strings.TrimSpace(kw))
	}

	t.strategies = t.buildStrategies()
	return nil
}

func compileSelectors(s Selectors) (compiled, error) {
	var c compiled
	var err error
	if c.current, err = ParseRules(s.Current); err != nil {
		return c, fmt.Errorf("current: %w", err)
	}
	if c.original, err = ParseRules(s.Original); err != nil {
		return c, fmt.Errorf("original: %w", err)
	}
	if c.title, err = ParseRules(s.Title); err != nil {
		return c, fmt.Errorf("title: %w", err)
	}
	if c.image, err = ParseRules(s.Image); err != nil {
		return c, fmt.Errorf("image: %w", err)
	}
	return c, nil
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
}

// Site returns the exact-hostname entry for host, or nil.
func (t *Table) Site(host string) *Site {
	return t.byHost[normalizeHost(host)]
}

// Platform returns the first platform whose signature appears in doc, or nil.
func (t *Table) Platform(doc *goquery.Document) *Platform {
	for _, p := range t.Platforms {
		if p.Matches(doc) {
			return p
		}
	}
	return nil
}

// Matches reports whether any signature selector is present in doc.
func (p *Platform) Matches(doc *goquery.Document) bool {
	for _, sig := range p.signatures {
		if len(sig.Find(doc)) > 0 {
			return true
		}
	}
	return false
}

// DisplayName returns the store name for host: the site entry's name when
// known, otherwise the capitalized first label of the hostname.
func (t *Table) DisplayName(host string) string {
	host = normalizeHost(host)
	if s := t.Site(host); s != nil && s.Name != "" {
		return s.Name
	}
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return host
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// TitleRules returns the site and platform title selectors for host and
// doc, most specific first.
func (t *Table) TitleRules(host string, doc *goquery.Document) []Rule {
	var out []Rule
	if s := t.Site(host); s != nil {
		out = append(out, s.rules.title...)
	}
	if p := t.Platform(doc); p != nil {
		out = append(out, p.rules.title...)
	}
	return out
}

// GenericTitleRules returns the generic product-title selectors.
func (t *Table) GenericTitleRules() []Rule {
	return t.Generic.rules.title
}

// ImageRules returns gallery selectors for host and doc, most specific first.
// Generic image selectors are excluded; the extractor applies its own
// heuristics after these.
func (t *Table) ImageRules(host string, doc *goquery.Document) []Rule {
	var out []Rule
	if s := t.Site(host); s != nil {
		out = append(out, s.rules.image...)
	}
	if p := t.Platform(doc); p != nil {
		out = append(out, p.rules.image...)
	}
	return out
}

// GenericImageRules returns the generic product-image selectors.
func (t *Table) GenericImageRules() []Rule {
	return t.Generic.rules.image
}

// VariantRules returns the site and platform variant rules that apply,
// most specific first.
func (t *Table) VariantRules(host string, doc *goquery.Document) []VariantRules {
	var out []VariantRules
	if s := t.Site(host); s != nil {
		out = append(out, s.Variants)
	}
	if p := t.Platform(doc); p != nil {
		out = append(out, p.Variants)
	}
	return out
}
