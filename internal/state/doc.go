// Package state provides filesystem-backed storage: scheduled prompt
// tasks, the local knowledge base of generations and feedback, the
// conversation transcript log, and saved script files.
package state
