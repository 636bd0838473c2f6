package collect

import (
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

// FormType is one of the four specimen tracking forms.
type FormType int

const (
	SampleDeparture FormType = iota + 1
	SampleArrival
	ResultsDeparture
	ResultsArrival
)

// FormTypes lists every known form in classification order.
var FormTypes = []FormType{SampleDeparture, SampleArrival, ResultsDeparture, ResultsArrival}

// Tag is the form's root element name in a submission.
func (f FormType) Tag() string {
	switch f {
	case SampleDeparture:
		return "sdepart"
	case SampleArrival:
		return "sarrive"
	case ResultsDeparture:
		return "redepart"
	case ResultsArrival:
		return "rarrive"
	}
	return ""
}

// String is the stage name recorded on changes.
func (f FormType) String() string {
	switch f {
	case SampleDeparture:
		return "sample-departure"
	case SampleArrival:
		return "sample-arrival"
	case ResultsDeparture:
		return "results-departure"
	case ResultsArrival:
		return "results-arrival"
	}
	return "unknown"
}

// ParseFormType accepts either a root tag or a stage name.
func ParseFormType(s string) (FormType, bool) {
	for _, f := range FormTypes {
		if s == f.Tag() || s == f.String() {
			return f, true
		}
	}
	return 0, false
}

// Form is a classified submission: the form type and its root element.
type Form struct {
	Type    FormType
	Element odk.Document
}

// Submission field names.
const (
	fieldEnd        = "end"
	fieldPerson     = "person"
	fieldRegion     = "region"
	fieldFacility   = "facility"
	fieldRepeat     = "srepeat"
	fieldStID       = "stid"
	fieldLabID      = "labid"
	fieldArtifact   = "stype"
	fieldStatus     = "condition"
	fieldMeta       = "meta"
	fieldInstanceID = "instanceID"
)

// Metadata taxonomy keys.
const (
	MetaFacility = "facility"
	MetaPerson   = "person"
	MetaRegion   = "region"
	MetaStatus   = "status"
	MetaArtifact = "artifact"
	MetaStage    = "stage"
)

const DefaultStatus = "ok"

var (
	endPath        = odk.Path{fieldEnd, 0}
	personPath     = odk.Path{fieldPerson, 0}
	regionPath     = odk.Path{fieldRegion, 0}
	facilityPath   = odk.Path{fieldFacility, 0}
	repeatPath     = odk.Path{fieldRepeat}
	stIDPath       = odk.Path{fieldStID, 0}
	labIDPath      = odk.Path{fieldLabID, 0}
	artifactPath   = odk.Path{fieldArtifact, 0}
	statusPath     = odk.Path{fieldStatus, 0}
	instanceIDPath = odk.Path{fieldMeta, 0, fieldInstanceID, 0}
)

func endDate(form odk.Document) (odk.Text, error)  { return odk.TextAt(form, endPath) }
func person(form odk.Document) (odk.Text, error)   { return odk.TextAt(form, personPath) }
func region(form odk.Document) (odk.Text, error)   { return odk.TextAt(form, regionPath) }
func facility(form odk.Document) (odk.Text, error) { return odk.TextAt(form, facilityPath) }

func stID(repeat odk.Document) (odk.Text, error)     { return odk.TextAt(repeat, stIDPath) }
func labID(repeat odk.Document) (odk.Text, error)    { return odk.TextAt(repeat, labIDPath) }
func artifact(repeat odk.Document) (odk.Text, error) { return odk.TextAt(repeat, artifactPath) }
func status(repeat odk.Document) (odk.Text, error)   { return odk.TextAt(repeat, statusPath) }

// InstanceID is the ODK instance identifier (meta/instanceID), when present.
func InstanceID(form Form) string {
	id, err := odk.TextAt(form.Element, instanceIDPath)
	if err != nil {
		return ""
	}
	return id.Value
}
