package pipeline

import "fmt"

// DefaultIterationCap bounds the generation rounds one role invocation may use.
const DefaultIterationCap = 3

// Role is the closed set of reasoning roles a stage can be bound to:
// Coordinator, Specialist and Researcher. Use ProfileOf to obtain
// the data a role carries.
type Role interface {
	// Name is a stable identifier used in logs, metrics and span attributes.
	Name() string
	sealed()
}

// Specialty selects a Specialist variant.
type Specialty string

const (
	Coronary     Specialty = "coronary"
	HeartFailure Specialty = "heart_failure"
	Arrhythmia   Specialty = "arrhythmia"
)

// Coordinator triages the case and writes the final report.
type Coordinator struct{}

// Specialist analyses the case within one cardiology subspecialty.
type Specialist struct {
	Kind Specialty
}

// Researcher produces evidence-oriented academic analysis.
type Researcher struct{}

func (Coordinator) Name() string  { return "coordinator" }
func (s Specialist) Name() string { return "specialist_" + string(s.Kind) }
func (Researcher) Name() string   { return "researcher" }

func (Coordinator) sealed() {}
func (Specialist) sealed()  {}
func (Researcher) sealed()  {}

// Profile is the generation setup a role carries.
type Profile struct {
	Title        string
	Persona      string
	Temperature  float64
	IterationCap int
}

// ProfileOf returns the profile of r. It panics on a nil Role or an unknown
// Specialty.
func ProfileOf(r Role) Profile {
	switch r := r.(type) {
	case Coordinator:
		return Profile{
			Title:        "Senior Cardiology Coordinator",
			Persona:      coordinatorPersona,
			Temperature:  0.1,
			IterationCap: DefaultIterationCap,
		}
	case Specialist:
		return specialistProfile(r.Kind)
	case Researcher:
		return Profile{
			Title:        "Academic Cardiology Researcher",
			Persona:      researcherPersona,
			Temperature:  0.4,
			IterationCap: DefaultIterationCap,
		}
	default:
		panic(fmt.Sprintf("pipeline: unknown role %T", r))
	}
}

func specialistProfile(kind Specialty) Profile {
	p := Profile{Temperature: 0.1, IterationCap: DefaultIterationCap}
	switch kind {
	case Coronary:
		p.Title = "Coronary Artery Disease Specialist"
		p.Persona = coronaryPersona
	case HeartFailure:
		p.Title = "Heart Failure Specialist"
		p.Persona = heartFailurePersona
	case Arrhythmia:
		p.Title = "Arrhythmia and Electrophysiology Specialist"
		p.Persona = arrhythmiaPersona
	default:
		panic(fmt.Sprintf("pipeline: unknown specialty %q", kind))
	}
	return p
}

const safetyRules = `
Non-negotiable rules:
1. Never alter clinical data given by the physician (age, sex, symptom onset, BP, HR, comorbidities). Copy them exactly.
2. Never invent results for exams that were not reported. Write "Exam not reported. Suggest: <exam>".
3. You may propose exams and management, never fictitious findings.`

const coordinatorPersona = `You are a cardiologist with 30 years of experience in tertiary referral hospitals.
You triage complex cases, coordinate multidisciplinary teams and recognise cardiac emergencies early.
Patient safety and early identification of life-threatening conditions come first.` + safetyRules

const coronaryPersona = `You are an interventional cardiologist with a fellowship in haemodynamics.
Expertise: STEMI and NSTEMI diagnosis, troponin interpretation, GRACE/TIMI/CRUSADE risk scores,
revascularisation indications, dual antiplatelet therapy and post-infarction complications.
Base every recommendation on ACC/AHA/ESC guidelines and SBC directives and always cite the guideline and year.` + safetyRules

const heartFailurePersona = `You are a cardiologist specialised in heart failure and cardiomyopathies.
Expertise: HFrEF/HFmrEF/HFpEF classification, NYHA staging, natriuretic peptides, guideline-directed
medical therapy titration, decompensation management and device indications.
Always cite the guideline and year.` + safetyRules

const arrhythmiaPersona = `You are a clinical electrophysiologist.
Expertise: ECG interpretation, atrial fibrillation and flutter, CHA2DS2-VASc and HAS-BLED scores,
anticoagulation, bradyarrhythmias, ventricular arrhythmias and device indications.
Always cite the guideline and year.` + safetyRules

const researcherPersona = `You are an academic cardiology researcher and educator.
You connect clinical cases to landmark trials, current guidelines and prognostic scores,
indicate levels of evidence and highlight learning points and diagnostic pitfalls.`
