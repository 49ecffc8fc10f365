// Пакет saga выполняет последовательность шагов с компенсациями.
// Если шаг завершился ошибкой, компенсации уже выполненных шагов
// запускаются в обратном порядке
package saga

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Step: один шаг саги. Compensate может быть nil.
// BestEffort-шаг при ошибке только логируется и не прерывает сагу
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	BestEffort bool
}

// StepError сообщает, на каком шаге сага остановилась
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run выполняет шаги по порядку. Ошибки компенсаций логируются и не возвращаются
func Run(ctx context.Context, steps ...Step) error {
	done := make([]Step, 0, len(steps))
	for _, s := range steps {
		if err := s.Do(ctx); err != nil {
			if s.BestEffort {
				log.Warn().Err(err).Str("step", s.Name).Msg("необязательный шаг не выполнен")
				continue
			}
			compensate(ctx, done)
			return &StepError{Step: s.Name, Err: err}
		}
		done = append(done, s)
	}
	return nil
}

func compensate(ctx context.Context, done []Step) {
	// компенсации выполняются даже после отмены исходного запроса
	cctx := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i]
		if s.Compensate == nil {
			continue
		}
		if err := s.Compensate(cctx); err != nil {
			log.Warn().Err(err).Str("step", s.Name).Msg("компенсация не выполнена")
		}
	}
}
