package imaging

import "fmt"

const systemPrompt = `You are a cardiologist experienced in reading cardiac imaging.
Describe only what is visible. State uncertainty explicitly and never invent measurements
that cannot be read from the image. Write in clear clinical English.`

const ecgPrompt = `Analyse this 12-lead ECG systematically:

1. TECHNICAL QUALITY: calibration, speed, artefacts, readable leads.
2. RHYTHM: regularity, P waves, relation P-QRS.
3. RATE: estimated heart rate.
4. AXIS: QRS axis.
5. INTERVALS: PR, QRS duration, QT/QTc.
6. MORPHOLOGY: P, QRS, ST segment, T wave, U wave. Note any ST elevation or depression by territory.
7. CONCLUSION: main findings and ECG diagnosis.
8. URGENCY: flag any finding that requires immediate action (STEMI, high-grade block, malignant arrhythmia).`

const xrayPrompt = `Analyse this chest X-ray from a cardiology perspective:

1. TECHNICAL QUALITY: projection, penetration, inspiration, rotation.
2. CARDIAC SILHOUETTE: cardiothoracic ratio, chamber enlargement.
3. MEDIASTINUM AND GREAT VESSELS.
4. PULMONARY VASCULATURE: congestion, redistribution, interstitial or alveolar oedema.
5. PLEURA: effusions.
6. DEVICES: pacemaker, valves, sternotomy wires, lines.
7. CONCLUSION and urgency.`

const echoPrompt = `Analyse this echocardiogram image:

1. VIEW AND QUALITY.
2. CHAMBERS: size and wall thickness where visible.
3. SYSTOLIC FUNCTION: visual estimate, regional wall motion.
4. VALVES: morphology and any visible regurgitation or stenosis.
5. PERICARDIUM: effusion.
6. CONCLUSION and limitations of a single frame.`

func promptFor(req Request) string {
	var p string
	switch req.Subject {
	case SubjectXRay:
		p = xrayPrompt
	case SubjectEcho:
		p = echoPrompt
	default:
		p = ecgPrompt
	}
	if req.Context != "" {
		p += fmt.Sprintf("\n\nCLINICAL CONTEXT PROVIDED BY THE PHYSICIAN:\n%s", req.Context)
	}
	return p
}
