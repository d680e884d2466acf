// internal/answer/skills.go
package answer

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultSkills maps a canonical skill key to the spellings that name it in
// questions. Profile skill keys are matched as their own alias on top of these.
var DefaultSkills = map[string][]string{
	"go":               {"golang", "go lang", "go"},
	"javascript":       {"javascript", "java script", "js", "ecmascript"},
	"typescript":       {"typescript", "ts"},
	"node.js":          {"node.js", "nodejs", "node js", "node"},
	"react":            {"react.js", "reactjs", "react js", "react"},
	"angular":          {"angularjs", "angular"},
	"vue":              {"vue.js", "vuejs", "vue"},
	"python":           {"python"},
	"django":           {"django"},
	"flask":            {"flask"},
	"java":             {"core java", "java"},
	"spring boot":      {"spring boot", "springboot", "spring"},
	"c++":              {"c++", "cpp"},
	"c#":               {"c#", "csharp", "c sharp"},
	".net":             {".net", "dotnet", "asp.net"},
	"php":              {"php", "laravel"},
	"ruby":             {"ruby on rails", "rails", "ruby"},
	"kotlin":           {"kotlin"},
	"swift":            {"swift"},
	"rust":             {"rust"},
	"sql":              {"sql", "mysql", "pl/sql"},
	"postgresql":       {"postgresql", "postgres"},
	"mongodb":          {"mongodb", "mongo"},
	"redis":            {"redis"},
	"kafka":            {"apache kafka", "kafka"},
	"docker":           {"docker"},
	"kubernetes":       {"kubernetes", "k8s"},
	"aws":              {"amazon web services", "aws"},
	"azure":            {"microsoft azure", "azure"},
	"gcp":              {"google cloud platform", "google cloud", "gcp"},
	"terraform":        {"terraform"},
	"linux":            {"linux", "unix"},
	"git":              {"git", "github"},
	"html":             {"html5", "html"},
	"css":              {"css3", "css", "scss", "tailwind"},
	"graphql":          {"graphql"},
	"rest":             {"rest api", "restful", "rest apis", "rest"},
	"microservices":    {"microservices", "micro services", "microservice"},
	"machine learning": {"machine learning", "ml"},
	"data structures":  {"data structures", "dsa", "algorithms"},
	"selenium":         {"selenium"},
	"devops":           {"devops", "ci/cd", "jenkins"},
}

// commonWords are aliases that are also ordinary English. Inside a sentence they
// name a skill only next to a preposition ("in Go") or a role noun ("Go
// developer"); Exact still accepts them as a bare prompt.
var commonWords = map[string]bool{
	"go":     true,
	"rest":   true,
	"spring": true,
	"swift":  true,
}

type alias struct {
	text string
	key  string
	re   *regexp.Regexp
}

// SkillCatalog finds skill mentions in question text.
type SkillCatalog struct {
	aliases []alias
}

// NewSkillCatalog builds a catalog from a canonical-key to aliases map.
func NewSkillCatalog(skills map[string][]string) *SkillCatalog {
	c := &SkillCatalog{}
	for key, names := range skills {
		c.add(key, key)
		for _, n := range names {
			c.add(key, n)
		}
	}
	c.sort()
	return c
}

func (c *SkillCatalog) add(key, name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	for _, a := range c.aliases {
		if a.text == name {
			return
		}
	}
	// Skill names end in symbols ("c++", "c#", ".net"), so boundaries are explicit
	// rather than \b.
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(^|[^a-z0-9+#.])` + q + `($|[^a-z0-9+#])`)
	if commonWords[name] {
		re = regexp.MustCompile(`\b(in|with|using|on|of|and|or)\s+` + q + `($|[^a-z0-9+#])|` +
			`(^|[^a-z0-9+#.])` + q + `\s+(developer|development|programming|language|lang|framework|apis?|services?|engineer|backend)\b`)
	}
	c.aliases = append(c.aliases, alias{text: name, key: strings.ToLower(key), re: re})
}

// Longest alias first so "spring boot" beats "spring" and "core java" beats "java".
func (c *SkillCatalog) sort() {
	sort.SliceStable(c.aliases, func(i, j int) bool {
		if len(c.aliases[i].text) != len(c.aliases[j].text) {
			return len(c.aliases[i].text) > len(c.aliases[j].text)
		}
		return c.aliases[i].text < c.aliases[j].text
	})
}

// with returns a copy extended by extra keys, each its own alias.
func (c *SkillCatalog) with(keys []string) *SkillCatalog {
	if len(keys) == 0 {
		return c
	}
	out := &SkillCatalog{aliases: append([]alias(nil), c.aliases...)}
	for _, k := range keys {
		out.add(k, k)
	}
	out.sort()
	return out
}

// Find returns the canonical key of the first (longest) skill mentioned in text.
func (c *SkillCatalog) Find(text string) (string, bool) {
	t := strings.ToLower(text)
	for _, a := range c.aliases {
		if a.re.MatchString(t) {
			return a.key, true
		}
	}
	return "", false
}

// Exact reports the skill key when text is nothing but a skill name.
func (c *SkillCatalog) Exact(text string) (string, bool) {
	t := strings.TrimRight(strings.Trim(strings.ToLower(text), "?:* \t\n"), ".")
	for _, a := range c.aliases {
		if a.text == t {
			return a.key, true
		}
	}
	return "", false
}
