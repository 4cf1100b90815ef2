package configs

import "embed"

// TemplateDefault contains the shipped default project template.
//
//go:embed template.yaml
var TemplateDefault embed.FS
