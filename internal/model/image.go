package model

import "gopkg.in/yaml.v3"

// Image is either a bare reference string or a structured image
// descriptor with registry credentials.
type Image struct {
	Name      string
	Username  string
	Password  string
	AWS       any
	RunAsUser int64
}

func (img *Image) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		img.Name = node.Value
		return nil
	}

	var raw struct {
		Name      string `yaml:"name"`
		Username  any    `yaml:"username"`
		Password  any    `yaml:"password"`
		AWS       any    `yaml:"aws"`
		RunAsUser int64  `yaml:"runAsUser"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	img.Name = raw.Name
	img.Username = stringify(raw.Username)
	img.Password = stringify(raw.Password)
	img.AWS = raw.AWS
	img.RunAsUser = raw.RunAsUser
	return nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
