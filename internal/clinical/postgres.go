package clinical

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberhealth/chartflow/internal/questionnaire"
)

// Compile-time assertion that PostgresProvider satisfies the Provider
// interface.
var _ Provider = (*PostgresProvider)(nil)

// PostgresProvider reads chart snapshots from a PostgreSQL host chart. It
// holds a single [pgxpool.Pool] and is safe for concurrent use.
//
// The schema is owned by the host platform; this provider only reads it.
// Expected tables: patients, conditions, medications, allergies,
// staged_forms, form_questions, form_responses.
type PostgresProvider struct {
	pool      *pgxpool.Pool
	patientID string
}

// NewPostgresProvider connects to the host chart database at dsn and scopes
// all snapshot queries to the given patient.
func NewPostgresProvider(ctx context.Context, dsn, patientID string) (*PostgresProvider, error) {
	if patientID == "" {
		return nil, fmt.Errorf("clinical: patientID must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("clinical: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("clinical: ping: %w", err)
	}
	return &PostgresProvider{pool: pool, patientID: patientID}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresProvider) Close() {
	p.pool.Close()
}

// Snapshot implements [Provider.Snapshot]. All sub-queries run within one
// repeatable-read transaction so the snapshot is internally consistent.
func (p *PostgresProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("clinical: begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var snap Snapshot

	err = tx.QueryRow(ctx,
		`SELECT name, COALESCE(birth_date, 'epoch'::date), COALESCE(sex, '')
		   FROM patients WHERE id = $1`,
		p.patientID,
	).Scan(&snap.Demographics.Name, &snap.Demographics.BirthDate, &snap.Demographics.Sex)
	if err != nil {
		return Snapshot{}, fmt.Errorf("clinical: load demographics: %w", err)
	}

	if snap.Conditions, err = p.loadConditions(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Medications, err = p.loadMedications(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Allergies, err = p.loadAllergies(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.StagedForms, err = p.loadStagedForms(ctx, tx); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

func (p *PostgresProvider) loadConditions(ctx context.Context, tx pgx.Tx) ([]Condition, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, name, COALESCE(onset, 'epoch'::date)
		   FROM conditions WHERE patient_id = $1 AND active ORDER BY name`,
		p.patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinical: load conditions: %w", err)
	}
	defer rows.Close()

	var out []Condition
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ID, &c.Name, &c.Onset); err != nil {
			return nil, fmt.Errorf("clinical: scan condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresProvider) loadMedications(ctx context.Context, tx pgx.Tx) ([]Medication, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, name, COALESCE(directions, '')
		   FROM medications WHERE patient_id = $1 AND active ORDER BY name`,
		p.patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinical: load medications: %w", err)
	}
	defer rows.Close()

	var out []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.Name, &m.Directions); err != nil {
			return nil, fmt.Errorf("clinical: scan medication: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresProvider) loadAllergies(ctx context.Context, tx pgx.Tx) ([]Allergy, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, substance, COALESCE(reaction, '')
		   FROM allergies WHERE patient_id = $1 ORDER BY substance`,
		p.patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinical: load allergies: %w", err)
	}
	defer rows.Close()

	var out []Allergy
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.Substance, &a.Reaction); err != nil {
			return nil, fmt.Errorf("clinical: scan allergy: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// loadStagedForms reads the staged form definitions with their questions
// and response slots, preserving the host-defined ordering.
func (p *PostgresProvider) loadStagedForms(ctx context.Context, tx pgx.Tx) ([]questionnaire.Questionnaire, error) {
	rows, err := tx.Query(ctx,
		`SELECT dbid, name FROM staged_forms WHERE patient_id = $1 ORDER BY position`,
		p.patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinical: load staged forms: %w", err)
	}
	defer rows.Close()

	var forms []questionnaire.Questionnaire
	for rows.Next() {
		var f questionnaire.Questionnaire
		if err := rows.Scan(&f.DBID, &f.Name); err != nil {
			return nil, fmt.Errorf("clinical: scan staged form: %w", err)
		}
		forms = append(forms, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range forms {
		if forms[i].Questions, err = p.loadQuestions(ctx, tx, forms[i].DBID); err != nil {
			return nil, err
		}
	}
	return forms, nil
}

func (p *PostgresProvider) loadQuestions(ctx context.Context, tx pgx.Tx, formDBID int) ([]questionnaire.Question, error) {
	rows, err := tx.Query(ctx,
		`SELECT dbid, label, type, skipped
		   FROM form_questions WHERE form_dbid = $1 ORDER BY position`,
		formDBID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinical: load form %d questions: %w", formDBID, err)
	}
	defer rows.Close()

	var questions []questionnaire.Question
	for rows.Next() {
		var q questionnaire.Question
		var typ string
		if err := rows.Scan(&q.DBID, &q.Label, &typ, &q.Skipped); err != nil {
			return nil, fmt.Errorf("clinical: scan form %d question: %w", formDBID, err)
		}
		q.Type = questionnaire.QuestionType(typ)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range questions {
		rrows, err := tx.Query(ctx,
			`SELECT dbid, COALESCE(value, ''), selected, comment
			   FROM form_responses WHERE question_dbid = $1 ORDER BY position`,
			questions[i].DBID,
		)
		if err != nil {
			return nil, fmt.Errorf("clinical: load question %d responses: %w", questions[i].DBID, err)
		}
		for rrows.Next() {
			var r questionnaire.Response
			if err := rrows.Scan(&r.DBID, &r.Value, &r.Selected, &r.Comment); err != nil {
				rrows.Close()
				return nil, fmt.Errorf("clinical: scan question %d response: %w", questions[i].DBID, err)
			}
			questions[i].Responses = append(questions[i].Responses, r)
		}
		err = rrows.Err()
		rrows.Close()
		if err != nil {
			return nil, err
		}
	}
	return questions, nil
}
