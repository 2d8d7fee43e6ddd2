package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the in-scope API surface: session
// CRUD/start/send/interrupt/reset/restart/pause/resume/terminate,
// permission response, comm send, channel CRUD, schedule CRUD, and one
// SSE stream per transport envelope kind.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/project", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Get("/current", s.getCurrentProject)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Post("/start", s.startSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Post("/interrupt", s.interruptSession)
			r.Post("/reset", s.resetSession)
			r.Post("/restart", s.restartSession)
			r.Post("/pause", s.pauseSession)
			r.Post("/resume", s.resumeSession)
			r.Post("/terminate", s.terminateSession)
			r.Patch("/permission-mode", s.setPermissionMode)

			r.Post("/permissions/{requestID}", s.respondPermission)

			r.Get("/event", s.sessionEvents)
		})
	})

	r.Route("/channel", func(r chi.Router) {
		r.Get("/", s.listChannels)
		r.Post("/", s.createChannel)

		r.Route("/{channelID}", func(r chi.Router) {
			r.Get("/", s.getChannel)
			r.Delete("/", s.deleteChannel)
			r.Post("/members", s.addChannelMember)
			r.Delete("/members/{sessionID}", s.removeChannelMember)
		})
	})

	r.Route("/schedule", func(r chi.Router) {
		r.Get("/", s.listSchedules)
		r.Post("/", s.createSchedule)

		r.Route("/{scheduleID}", func(r chi.Router) {
			r.Get("/", s.getSchedule)
			r.Patch("/", s.updateSchedule)
			r.Delete("/", s.deleteSchedule)
			r.Post("/pause", s.pauseSchedule)
			r.Post("/resume", s.resumeSchedule)
			r.Post("/cancel", s.cancelSchedule)
		})
	})

	r.Post("/comm", s.sendComm)
	r.Get("/legion/{projectID}/event", s.legionEvents)

	r.Get("/event", s.globalEvents)
}
