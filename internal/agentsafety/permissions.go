package agentsafety

import (
	"regexp"
	"sort"

	"github.com/moltstore/appreview/internal/models"
)

// Capability signatures scanned across all files, independent of whether
// the reasoning call runs.
var permissionSignatures = []struct {
	name string
	re   *regexp.Regexp
}{
	{"filesystem", regexp.MustCompile(`(?i)fs\.|readFile|writeFile|readdir`)},
	{"network", regexp.MustCompile(`(?i)fetch|axios|http\.|https\.|request\(`)},
	{"subprocess", regexp.MustCompile(`(?i)child_process|spawn|exec\(|execSync`)},
	{"database", regexp.MustCompile(`(?i)prisma|mongoose|sequelize|typeorm|knex|pg\.|mysql|sqlite`)},
	{"environment", regexp.MustCompile(`(?i)process\.env`)},
	{"llm_api", regexp.MustCompile(`(?i)openai|anthropic|langchain|cohere|huggingface`)},
}

// ActualPermissions derives the capabilities the code actually exercises,
// to be compared against whatever the app declares.
func ActualPermissions(files []models.ExtractedFile) []string {
	found := make(map[string]bool)
	for _, file := range files {
		for _, sig := range permissionSignatures {
			if !found[sig.name] && sig.re.MatchString(file.Content) {
				found[sig.name] = true
			}
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
