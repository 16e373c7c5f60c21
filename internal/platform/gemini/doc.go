// Package gemini suggests activities with Google's Gemini API through the
// google.golang.org/genai client. It implements activity.Backend.
package gemini
