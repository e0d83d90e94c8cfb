package core

import "fmt"

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

// ParseEnvironment validates raw value given by a flag or a config file
func ParseEnvironment(raw string) (Environment, error) {
	switch env := Environment(raw); env {
	case DevelopmentEnv, ProductionEnv:
		return env, nil
	case "":
		return DevelopmentEnv, nil
	default:
		return "", fmt.Errorf("unknown environment %q", raw)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
