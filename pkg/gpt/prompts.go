package gpt

import "fmt"

const orthographyPrompt = `Te serán proveídos textos en varios idiomas con posibles errores ortográficos y grámaticales.
Las palabras deben existir en el idioma del texto, y no deben ser inventadas.
Tu tarea es corregirlos y devolver el texto corregido en formato JSON,
también debes de dar un porcentaje de acierto por el usuario.

Si no hay errores, debes de retornar un mensaje de felicitaciones.

Ejemplo de salida:
{
  "userScore": number,
  "errors": [], // ["error -> solución"]
  "message": string // Usa emojis y texto para felicitar al usuario si no hay errores
}`

const prosConsPrompt = `Se te dará una pregunta y tu tarea es dar una respuesta con pros y contras,
la respuesta debe de ser en formato markdown,
los pros y contras deben de estar en una lista.`

// JavascriptDeveloperSeed is the pinned first turn of every javascript developer chat.
const JavascriptDeveloperSeed = `Eres un asistente experto en desarrollo web y mobile. Mas enfocado en javascript y typescript.

Brindando respuestas con clean code, ofreciendo soluciones simples y soluciones escalables.`

const resumeInstructions = `Eres un experto en selección de personal y redacción de CVs.
Tu especialidad es optimizar currículums para maximizar las posibilidades de conseguir entrevistas.
Conoces cómo funcionan los sistemas ATS y qué buscan los reclutadores.
**RESTRICCIÓN: La respuesta final debe estar formateada utilizando Markdown.**`

func translatePrompt(lang, text string) string {
	return fmt.Sprintf("Traduce el siguiente texto al idioma %s:%s", lang, text)
}

func resumePrompt(cv, form, goal string) string {
	if form == "" {
		form = "No se proporcionó información adicional"
	}
	return fmt.Sprintf(`TAREA:
Reescribe completamente este CV para hacerlo profesional, claro y optimizado para el siguiente objetivo:

OBJETIVO: %q

INSTRUCCIONES:
✓ Integra información valiosa del formulario adicional
✓ Usa palabras clave relevantes para el objetivo (ATS-friendly)
✓ Destaca logros medibles
✓ Prioriza experiencia relevante
✓ Usa verbos de acción
✓ Mantén formato claro
✓ Elimina redundancias

FORMATO DE SALIDA:
Devuelve SOLO el CV final con estas secciones:
1. Datos de Contacto
2. Resumen Profesional
3. Experiencia Profesional
4. Educación
5. Habilidades Técnicas
6. Idiomas

---
CV ORIGINAL:
%s

---
INFORMACIÓN ADICIONAL:
%s

---
CV OPTIMIZADO:
`, goal, cv, form)
}
