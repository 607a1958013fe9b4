// Package runnable defines the two kinds of Kettle artifact and the Carte
// endpoint and parameter names each one uses. Callers switch once on the Kind
// and read everything else from its Endpoints.
package runnable

import (
	"fmt"
	"strings"
)

// Kind is Job or Transformation.
type Kind string

const (
	Job            Kind = "job"
	Transformation Kind = "trans"
)

// Endpoints is the Carte vocabulary for one Kind.
type Endpoints struct {
	Execute          string // executeJob / executeTrans
	ExecuteNameParam string // job / trans
	Status           string // jobStatus / transStatus
	Stop             string // stopJob / stopTrans
	NameParam        string // name / trans, used by status and stop
	ListElement      string // jobstatus / transstatus inside the global status listing
	ListNameElement  string // jobname / transname
}

var endpoints = map[Kind]Endpoints{
	Job: {
		Execute:          "executeJob",
		ExecuteNameParam: "job",
		Status:           "jobStatus",
		Stop:             "stopJob",
		NameParam:        "name",
		ListElement:      "jobstatus",
		ListNameElement:  "jobname",
	},
	Transformation: {
		Execute:          "executeTrans",
		ExecuteNameParam: "trans",
		Status:           "transStatus",
		Stop:             "stopTrans",
		NameParam:        "trans",
		ListElement:      "transstatus",
		ListNameElement:  "transname",
	},
}

// Endpoints returns the Carte mapping. It panics on an invalid Kind; use Parse at boundaries.
func (k Kind) Endpoints() Endpoints {
	e, ok := endpoints[k]
	if !ok {
		panic(fmt.Sprintf("runnable: unknown kind %q", string(k)))
	}
	return e
}

// Valid reports whether k is Job or Transformation.
func (k Kind) Valid() bool {
	_, ok := endpoints[k]
	return ok
}

// Label is the display form, "JOB" or "TRANS".
func (k Kind) Label() string {
	return strings.ToUpper(string(k))
}

func (k Kind) String() string {
	return string(k)
}

// Parse accepts job/trans and the usual spellings of both.
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "job", "jobs", "kjb":
		return Job, nil
	case "trans", "transformation", "transformations", "ktr":
		return Transformation, nil
	}
	return "", fmt.Errorf("unknown kind %q (want job or trans)", s)
}
