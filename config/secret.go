package config

import "github.com/bitrise-io/go-steputils/v2/stepconf"

// secretValue binds a stepconf.Secret to a flag without printing it in the usage text.
type secretValue struct {
	secret *stepconf.Secret
}

func (v secretValue) String() string {
	if v.secret == nil {
		return ""
	}
	return v.secret.String()
}

func (v secretValue) Set(value string) error {
	*v.secret = stepconf.Secret(value)
	return nil
}

func (v secretValue) Type() string {
	return "string"
}
