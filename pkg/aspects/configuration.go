package aspects

// Configuration controls how an aspect is woven. Nil fields are unset and
// are filled from lower-precedence sources by Merge.
type Configuration struct {
	Priority                *int
	RequiresRuntimeInstance *bool
	RequiresInstanceTag     *bool

	// ExceptionType restricts OnException to one exception type.
	ExceptionType *string

	// Composition
	PublicInterface                 *string
	ProtectedInterfaces             []string
	GenerateImplementationAccessors *bool
	IgnoreIfAlreadyImplemented      *bool
}

// Merge fills every unset field of c from lower. Fields already set in c win.
func (c *Configuration) Merge(lower *Configuration) {
	if lower == nil {
		return
	}
	if c.Priority == nil {
		c.Priority = lower.Priority
	}
	if c.RequiresRuntimeInstance == nil {
		c.RequiresRuntimeInstance = lower.RequiresRuntimeInstance
	}
	if c.RequiresInstanceTag == nil {
		c.RequiresInstanceTag = lower.RequiresInstanceTag
	}
	if c.ExceptionType == nil {
		c.ExceptionType = lower.ExceptionType
	}
	if c.PublicInterface == nil {
		c.PublicInterface = lower.PublicInterface
	}
	if c.ProtectedInterfaces == nil {
		c.ProtectedInterfaces = lower.ProtectedInterfaces
	}
	if c.GenerateImplementationAccessors == nil {
		c.GenerateImplementationAccessors = lower.GenerateImplementationAccessors
	}
	if c.IgnoreIfAlreadyImplemented == nil {
		c.IgnoreIfAlreadyImplemented = lower.IgnoreIfAlreadyImplemented
	}
}

// Set assigns a field by its property name, as used by configuration
// attributes. It reports false for unknown names or mismatched values and
// never overwrites a field that is already set.
func (c *Configuration) Set(name string, value any) bool {
	switch name {
	case "Priority":
		n, ok := value.(int64)
		if !ok {
			return false
		}
		if c.Priority == nil {
			c.Priority = Int(int(n))
		}
	case "RequiresRuntimeInstance":
		return setBool(&c.RequiresRuntimeInstance, value)
	case "RequiresInstanceTag":
		return setBool(&c.RequiresInstanceTag, value)
	case "GenerateImplementationAccessors":
		return setBool(&c.GenerateImplementationAccessors, value)
	case "IgnoreIfAlreadyImplemented":
		return setBool(&c.IgnoreIfAlreadyImplemented, value)
	case "ExceptionType":
		return setString(&c.ExceptionType, value)
	case "PublicInterface":
		return setString(&c.PublicInterface, value)
	case "ProtectedInterfaces":
		list, ok := value.([]string)
		if !ok {
			return false
		}
		if c.ProtectedInterfaces == nil {
			c.ProtectedInterfaces = list
		}
	default:
		return false
	}
	return true
}

func setBool(dst **bool, value any) bool {
	b, ok := value.(bool)
	if !ok {
		return false
	}
	if *dst == nil {
		*dst = Bool(b)
	}
	return true
}

func setString(dst **string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	if *dst == nil {
		*dst = String(s)
	}
	return true
}

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }

// IntValue dereferences p, or returns def when unset.
func IntValue(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// BoolValue dereferences p, or returns def when unset.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// StringValue dereferences p, or returns def when unset.
func StringValue(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
