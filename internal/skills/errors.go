package skills

import "fmt"

// NotFoundError reports a skill name that matched no discovered skill.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("skill not found: %s", e.Name)
}

// UnavailableError reports a skill whose gates are not satisfied.
type UnavailableError struct {
	Name   string
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("skill %s is unavailable: %s", e.Name, e.Reason)
}
