// Package templates renders patient-facing notification content. Each
// template produces an email subject/body pair and a short SMS variant.
package templates

import (
	"bytes"
	"fmt"
	"text/template"
)

type Data struct {
	PatientName      string
	ServiceName      string
	Date             string
	StartTime        string
	ConfirmationCode string
	Reason           string
}

type Message struct {
	Subject string
	Body    string
	SMS     string
}

type def struct {
	subject string
	body    *template.Template
	sms     *template.Template
}

var registry = map[string]def{
	"appointment_reminder": {
		subject: "Appointment reminder",
		body: tmpl("reminder_body",
			"Hi {{.PatientName}},\n\n"+
				"This is a reminder for your {{.ServiceName}} appointment on {{.Date}} at {{.StartTime}}.\n\n"+
				"If you need to reschedule, please contact the clinic as early as possible.\n"),
		sms: tmpl("reminder_sms",
			"Reminder: {{.ServiceName}} appointment on {{.Date}} at {{.StartTime}}."),
	},
	"appointment_booked": {
		subject: "Appointment request received",
		body: tmpl("booked_body",
			"Hi {{.PatientName}},\n\n"+
				"We received your request for {{.ServiceName}} on {{.Date}} at {{.StartTime}}.\n"+
				"Your confirmation code is {{.ConfirmationCode}}. Keep it to look up or change your appointment.\n"),
		sms: tmpl("booked_sms",
			"Appointment request for {{.Date}} {{.StartTime}} received. Code: {{.ConfirmationCode}}"),
	},
	"appointment_rescheduled": {
		subject: "Appointment rescheduled",
		body: tmpl("rescheduled_body",
			"Hi {{.PatientName}},\n\n"+
				"Your appointment has been moved to {{.Date}} at {{.StartTime}}.\n"),
		sms: tmpl("rescheduled_sms",
			"Your appointment was moved to {{.Date}} at {{.StartTime}}."),
	},
	"appointment_cancelled": {
		subject: "Appointment cancelled",
		body: tmpl("cancelled_body",
			"Hi {{.PatientName}},\n\n"+
				"Your appointment on {{.Date}} at {{.StartTime}} has been cancelled."+
				"{{if .Reason}} Reason: {{.Reason}}.{{end}}\n"),
		sms: tmpl("cancelled_sms",
			"Your appointment on {{.Date}} at {{.StartTime}} was cancelled."),
	},
}

func tmpl(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// Render produces the message for the named template. Unknown names are an
// error so misconfigured callers fail loudly instead of sending blanks.
func Render(name string, data Data) (Message, error) {
	d, ok := registry[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", name)
	}
	if data.PatientName == "" {
		data.PatientName = "there"
	}

	var body, sms bytes.Buffer
	if err := d.body.Execute(&body, data); err != nil {
		return Message{}, err
	}
	if err := d.sms.Execute(&sms, data); err != nil {
		return Message{}, err
	}
	return Message{Subject: d.subject, Body: body.String(), SMS: sms.String()}, nil
}

// DataFromMap converts the loosely typed template_data carried on events
// into the fields the templates understand.
func DataFromMap(m map[string]any) Data {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	return Data{
		PatientName:      str("patient_name"),
		ServiceName:      str("service_name"),
		Date:             str("date"),
		StartTime:        str("start_time"),
		ConfirmationCode: str("confirmation_code"),
		Reason:           str("reason"),
	}
}
