// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

// StopServer shuts the service down. An active or pending recording is
// stopped first, waiting at most service.stop_timeout for the stop to
// finish; the socket is closed either way. The scheduler stops taking
// work but drains what is already queued, which Join waits for until
// the same deadline. Only the first call does anything; later calls
// wait for it.
//
// StopServer may be called from a message handler.
func (s *Service) StopServer() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server", "phase", s.lifecycle.Phase())
		timeout := s.config.Service.StopTimeout
		s.stopDeadline = s.clock.Now().Add(timeout)

		if s.lifecycle.IsRecording() || s.lifecycle.InProgress() {
			task := s.submitStop()
			if err := task.WaitTimeout(timeout); err != nil {
				s.logger.Error("recording did not stop cleanly before shutdown",
					"timeout", timeout,
					"error", err,
				)
			}
		}

		s.server.Stop()
		s.scheduler.Close()
		close(s.terminated)
	})
}
