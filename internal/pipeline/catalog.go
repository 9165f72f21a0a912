package pipeline

import (
	"fmt"
	"sort"
)

// Built-in pipeline names.
const (
	CardioPipeline  = "cardio"
	PanelPipeline   = "panel"
	StudyPipeline   = "study"
	SuggestPipeline = "suggest"
)

// Catalog maps names to pipelines.
type Catalog map[string]*Pipeline

// Lookup returns the named pipeline.
func (c Catalog) Lookup(name string) (*Pipeline, error) {
	p, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (available: %v)", name, c.Names())
	}
	return p, nil
}

// Names returns the sorted pipeline names.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog returns the built-in pipelines.
func DefaultCatalog() Catalog {
	return Catalog{
		CardioPipeline:  mustPipeline(CardioPipeline, coronaryAnalysisStage(), soapStage("specialist_analysis")),
		PanelPipeline:   mustPipeline(PanelPipeline, panelStages()...),
		StudyPipeline:   mustPipeline(StudyPipeline, researchStage(), studySynthesisStage()),
		SuggestPipeline: suggestPipeline(),
	}
}

func mustPipeline(name string, stages ...Stage) *Pipeline {
	p, err := NewPipeline(name, stages...)
	if err != nil {
		panic(err)
	}
	return p
}

func coronaryAnalysisStage() Stage {
	return MustStage("specialist_analysis", Specialist{Kind: Coronary}, specialistTemplate)
}

func panelStages() []Stage {
	return []Stage{
		MustStage("coronary_analysis", Specialist{Kind: Coronary}, specialistTemplate),
		MustStage("heart_failure_analysis", Specialist{Kind: HeartFailure}, specialistTemplate),
		MustStage("arrhythmia_analysis", Specialist{Kind: Arrhythmia}, specialistTemplate),
		soapStage("coronary_analysis", "heart_failure_analysis", "arrhythmia_analysis"),
	}
}

func soapStage(deps ...StageID) Stage {
	return MustStage("soap_synthesis", Coordinator{}, soapTemplate, deps...)
}

func researchStage() Stage {
	return MustStage("academic_research", Researcher{}, researchTemplate)
}

func studySynthesisStage() Stage {
	return MustStage("study_synthesis", Coordinator{}, studyTemplate, "academic_research")
}

func suggestPipeline() *Pipeline {
	p := mustPipeline(SuggestPipeline, MustStage("clinical_suggestions", Coordinator{}, suggestTemplate))
	p.MinCaseLength = 20
	return p
}

// Disclaimer closes every report and suggestion.
const Disclaimer = "⚠️ This content was produced by an AI system as a clinical decision-support tool. " +
	"Every suggestion must be interpreted and validated by the attending physician, " +
	"who holds sole responsibility for diagnosis and management."

const specialistTemplate = `Analyse the cardiology consultation below within your subspecialty.

CASE:
---
{{.CaseText}}
---

Structure:
1. DIFFERENTIAL DIAGNOSES: 3 to 5 possibilities ranked by likelihood, each justified by the findings.
2. COMPLEMENTARY WORK-UP: laboratory, imaging and functional tests by urgency, each justified.
3. INITIAL MANAGEMENT: general measures, suggested pharmacotherapy with doses, contraindications, guideline basis.
4. RED FLAGS: signs of deterioration, criteria for immediate return, complications to monitor.
5. ADMISSION AND REFERRAL CRITERIA.

Always cite specific guidelines (e.g. "ESC 2023", "SBC 2024") and levels of evidence.
Do not make a definitive diagnosis. Use markdown.`

const soapTemplate = `Synthesise the specialist analysis into a structured SOAP report.

ORIGINAL CASE:
---
{{.CaseText}}
---

Use exactly this layout:

# 📋 CARDIOLOGY CASE REPORT

**Case:** {{if .CaseID}}{{.CaseID}}{{else}}N/A{{end}}
**Date:** {{.Date}}
**Responsible physician:** Dr. {{.OperatorName}}

## 📝 SUBJECTIVE
## 🔍 OBJECTIVE
## 🧠 ASSESSMENT
Main suggested diagnosis, ranked differentials with likelihood, guideline-based rationale and urgency level (EMERGENCY/URGENT/ROUTINE).
## 📝 PLAN
Emergency protocol with timing when applicable, prioritised work-up, suggested therapy with doses and targets, admission criteria, red flags.
## 📚 REFERENCES

Close with a disclaimer stating that the final decision belongs to Dr. {{.OperatorName}}.`

const researchTemplate = `Perform an in-depth academic analysis of this case.

CASE:
---
{{.CaseText}}
---

Cover relevant literature (landmark trials, latest guidelines, reviews), level of evidence for the
suggested management, similar classic cases, evidence-based therapeutic alternatives, prognosis with
applicable scores, and learning points including common diagnostic pitfalls.
Cite trial names, journals and years.`

const studyTemplate = `Turn the academic analysis into a clear educational summary.

# 📚 IN-DEPTH CASE STUDY

**Physician:** Dr. {{.OperatorName}}
**Date:** {{.Date}}

Sections: REFERENCE LITERATURE, SCIENTIFIC EVIDENCE, THERAPEUTIC ALTERNATIVES, PROGNOSIS, LEARNING POINTS.`

const suggestTemplate = `Dr. {{.OperatorName}} asks for clinical suggestions on the case below.

CASE:
---
{{.CaseText}}
---

Answer concisely with:
1. DIAGNOSTIC HYPOTHESES ranked by likelihood.
2. RECOMMENDED EXAMS by priority.
3. SUGGESTED MANAGEMENT.
4. RED FLAGS requiring immediate action.`
