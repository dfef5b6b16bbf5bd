package media

import "sync"

// SurfaceState is a snapshot of what the playback surface currently
// holds: the tracks a client should be rendering.
type SurfaceState struct {
	Video []Track
	Audio []Track
	// AudioPlayback applies to all attached audio tracks.
	AudioPlayback Playback
}

// Surface is the default Sink. It mirrors the avatar's remote tracks so
// the serving layer can tell clients what to render, and notifies an
// optional observer on every change.
type Surface struct {
	mu       sync.Mutex
	video    map[string]Track
	audio    map[string]Track
	playback Playback
	onChange func(SurfaceState)
}

func NewSurface(onChange func(SurfaceState)) *Surface {
	return &Surface{
		video:    make(map[string]Track),
		audio:    make(map[string]Track),
		onChange: onChange,
	}
}

func (s *Surface) AttachVideo(t Track) {
	s.mu.Lock()
	s.video[t.ID] = t
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

func (s *Surface) AttachAudio(t Track, playback Playback) {
	s.mu.Lock()
	s.audio[t.ID] = t
	s.playback = playback
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

func (s *Surface) Detach(t Track) {
	s.mu.Lock()
	delete(s.video, t.ID)
	delete(s.audio, t.ID)
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

func (s *Surface) Release() {
	s.mu.Lock()
	s.video = make(map[string]Track)
	s.audio = make(map[string]Track)
	s.playback = Playback{}
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

// State returns the current playback surface contents.
func (s *Surface) State() SurfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Surface) stateLocked() SurfaceState {
	state := SurfaceState{AudioPlayback: s.playback}
	for _, t := range s.video {
		state.Video = append(state.Video, t)
	}
	for _, t := range s.audio {
		state.Audio = append(state.Audio, t)
	}
	return state
}

func (s *Surface) notify(state SurfaceState) {
	if s.onChange != nil {
		s.onChange(state)
	}
}
