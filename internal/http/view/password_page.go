package view

import (
	"bytes"
	"html/template"
)

// PasswordPageData feeds the password prompt shown for protected links.
type PasswordPageData struct {
	Code        string
	Description string
	Action      string
	Error       string
}

var passwordPageTmpl = template.Must(template.New("password_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>Protected link</title>
	<style>
		:root {
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			--accent-strong: #38bdf8;
			--danger: #fca5a5;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(440px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		h1 { font-size: 1.4rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
		input[type=password] {
			width: 100%;
			height: 46px;
			margin: 18px 0 12px;
			padding: 0 14px;
			border-radius: 12px;
			border: 1px solid var(--border);
			background: rgba(0,0,0,0.3);
			color: var(--text);
		}
		button {
			width: 100%;
			height: 46px;
			border: 0;
			border-radius: 999px;
			background: linear-gradient(120deg, var(--accent), var(--accent-strong));
			color: #050708;
			font-weight: 600;
			cursor: pointer;
		}
		.error { color: var(--danger); font-size: 0.9rem; }
	</style>
</head>
<body>
	<form class="card" method="post" action="{{.Action}}">
		<h1>This link is password protected</h1>
		<p>Enter the password to continue to <strong>/{{.Code}}</strong>.</p>
		{{if .Description}}<p>{{.Description}}</p>{{end}}
		{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
		<input type="password" name="password" placeholder="Password" autofocus required />
		<button type="submit">Continue</button>
	</form>
</body>
</html>
`))

// RenderPasswordPage expands the password prompt. Action defaults to the
// redirect path of the code.
func RenderPasswordPage(data PasswordPageData) (string, error) {
	if data.Action == "" {
		data.Action = "/" + data.Code
	}
	var buf bytes.Buffer
	if err := passwordPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
