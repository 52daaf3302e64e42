package templates

const DefaultPlain = `Hello {{name|default('there')}},

{{message}}

{% if company %}
Company: {{company}}
{% endif %}

Best regards,
{{sender_name}}

---
To unsubscribe, reply with "UNSUBSCRIBE" in the subject line.`

const DefaultHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{subject|default('Email')}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; border-radius: 5px; }
        .content { padding: 20px 0; }
        .footer { background-color: #f8f9fa; padding: 20px; border-radius: 5px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2>Hello {{name|default('there')}}!</h2>
        </div>

        <div class="content">
            {{message|safe}}

            {% if company %}
            <p><strong>Company:</strong> {{company}}</p>
            {% endif %}
        </div>

        <div class="footer">
            <p>Best regards,<br>
            <strong>{{sender_name}}</strong></p>

            <hr>
            <p style="font-size: 11px; color: #999;">
                To unsubscribe, reply with "UNSUBSCRIBE" in the subject line.
            </p>
        </div>
    </div>
</body>
</html>`

// Default returns the built-in body for kind.
func Default(kind Kind) string {
	if kind == HTML {
		return DefaultHTML
	}
	return DefaultPlain
}
