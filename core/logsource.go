package core

import "fmt"

// LogSource describes one cloud provider's audit log shape: which
// Sigma logsource services apply, which field carries the record
// timestamp, and which field holds the source IP for enrichment.
type LogSource struct {
	Name           string
	Services       []string
	TimestampField string
	SourceIPField  string
}

var (
	// LogSourceAWS covers CloudTrail exports.
	LogSourceAWS = &LogSource{
		Name:           "aws",
		Services:       []string{"cloudtrail"},
		TimestampField: "eventTime",
		SourceIPField:  "sourceIPAddress",
	}

	// LogSourceAzure covers activity, audit and sign-in log exports.
	LogSourceAzure = &LogSource{
		Name:           "azure",
		Services:       []string{"activitylogs", "auditlogs", "signinlogs"},
		TimestampField: "time",
		SourceIPField:  "callerIpAddress",
	}
)

// LogSourceByName resolves a configured log source name.
func LogSourceByName(name string) (*LogSource, error) {
	switch name {
	case "aws", "":
		return LogSourceAWS, nil
	case "azure":
		return LogSourceAzure, nil
	default:
		return nil, fmt.Errorf("unknown log source %q", name)
	}
}

// SupportsService reports whether a rule's logsource service belongs
// to this log source.
func (s *LogSource) SupportsService(service string) bool {
	if service == "" {
		return false
	}
	for _, svc := range s.Services {
		if svc == service {
			return true
		}
	}
	return false
}
