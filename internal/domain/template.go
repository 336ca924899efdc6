package domain

import (
	"math/rand"
	"strings"
	"time"
)

// RenderTemplate подставляет переменные {DATE}, {TIME}, {DAY_NAME} и
// раскрывает spintax вида {привет|здравствуйте}. Каждый вызов может дать
// другой текст, что снижает шанс попасть под антиспам.
func RenderTemplate(text string, now time.Time, rnd *rand.Rand) string {
	result := renderVariables(text, now)

	var b strings.Builder
	for {
		start := strings.Index(result, "{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		options := strings.Split(result[start+1:end], "|")
		b.WriteString(result[:start])
		b.WriteString(options[rnd.Intn(len(options))])
		result = result[end+1:]
	}
	b.WriteString(result)
	return b.String()
}

func renderVariables(text string, now time.Time) string {
	r := strings.NewReplacer(
		"{DATE}", now.Format("02.01.2006"),
		"{TIME}", now.Format("15:04"),
		"{DAY_NAME}", now.Weekday().String(),
	)
	return r.Replace(text)
}
