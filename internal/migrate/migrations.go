package migrate

// AllMigrations returns the full, ordered migration set for the clinical
// data engine. Order matters: later migrations may assume earlier ones
// already ran (e.g. cascade triggers assume the dimension/fact tables
// exist).
func AllMigrations() []Migration {
	return []Migration{
		{
			Name:        "001_patient_dimension",
			Description: "Creates PATIENT_DIMENSION",
			SQL: `
CREATE TABLE patient_dimension (
	patient_num INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_cd TEXT NOT NULL UNIQUE,
	sex_cd TEXT,
	age_in_years INTEGER,
	birth_date TEXT,
	death_date TEXT,
	language_cd TEXT,
	race_cd TEXT,
	marital_cd TEXT,
	religion_cd TEXT,
	blob TEXT,
	import_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	upload_id INTEGER,
	sourcesystem_cd TEXT NOT NULL DEFAULT 'USER'
)`,
		},
		{
			Name:        "002_visit_dimension",
			Description: "Creates VISIT_DIMENSION with FK to PATIENT_DIMENSION",
			SQL: `
CREATE TABLE visit_dimension (
	encounter_num INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_num INTEGER NOT NULL REFERENCES patient_dimension(patient_num),
	start_date TEXT NOT NULL,
	end_date TEXT,
	active_status_cd TEXT,
	inout_cd TEXT,
	location_cd TEXT,
	blob TEXT,
	import_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	upload_id INTEGER,
	sourcesystem_cd TEXT NOT NULL DEFAULT 'USER',
	CHECK (end_date IS NULL OR end_date >= start_date)
);
CREATE INDEX idx_visit_patient ON visit_dimension(patient_num);
CREATE INDEX idx_visit_location ON visit_dimension(location_cd);
CREATE INDEX idx_visit_dates ON visit_dimension(start_date, end_date);
`,
		},
		{
			Name:        "003_concept_dimension",
			Description: "Creates CONCEPT_DIMENSION",
			SQL: `
CREATE TABLE concept_dimension (
	concept_cd TEXT PRIMARY KEY,
	concept_path TEXT NOT NULL,
	display_name TEXT NOT NULL,
	category_cd TEXT,
	valtype_cd TEXT NOT NULL,
	unit_cd TEXT,
	sourcesystem_cd TEXT,
	related_concept TEXT,
	blob TEXT
);
CREATE INDEX idx_concept_path ON concept_dimension(concept_path);
CREATE INDEX idx_concept_category ON concept_dimension(category_cd);
`,
		},
		{
			Name:        "004_code_lookup",
			Description: "Creates CODE_LOOKUP",
			SQL: `
CREATE TABLE code_lookup (
	table_cd TEXT NOT NULL,
	column_cd TEXT NOT NULL,
	code_cd TEXT NOT NULL,
	name_char TEXT NOT NULL,
	blob TEXT,
	PRIMARY KEY (table_cd, column_cd, code_cd)
)`,
		},
		{
			Name:        "005_observation_fact",
			Description: "Creates OBSERVATION_FACT with FKs to patient/visit/concept",
			SQL: `
CREATE TABLE observation_fact (
	instance_num INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_num INTEGER NOT NULL REFERENCES patient_dimension(patient_num),
	encounter_num INTEGER NOT NULL REFERENCES visit_dimension(encounter_num),
	concept_cd TEXT NOT NULL REFERENCES concept_dimension(concept_cd),
	valtype_cd TEXT NOT NULL,
	nval_num REAL,
	tval_char TEXT,
	unit_cd TEXT,
	category_cd TEXT,
	provider_id TEXT,
	location_cd TEXT,
	start_date TEXT NOT NULL,
	end_date TEXT,
	blob TEXT,
	import_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	upload_id INTEGER,
	sourcesystem_cd TEXT NOT NULL DEFAULT 'USER',
	CHECK (
		(valtype_cd = 'N' AND nval_num IS NOT NULL AND tval_char IS NULL)
		OR (valtype_cd != 'N' AND nval_num IS NULL)
	)
);
CREATE INDEX idx_obs_patient ON observation_fact(patient_num);
CREATE INDEX idx_obs_encounter ON observation_fact(encounter_num);
CREATE INDEX idx_obs_concept ON observation_fact(concept_cd);
CREATE INDEX idx_obs_dates ON observation_fact(start_date, end_date);
CREATE INDEX idx_obs_natural_key ON observation_fact(patient_num, encounter_num, concept_cd, start_date);
`,
		},
		{
			Name:        "006_note_fact",
			Description: "Creates NOTE_FACT",
			SQL: `
CREATE TABLE note_fact (
	note_id INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_num INTEGER NOT NULL REFERENCES patient_dimension(patient_num),
	encounter_num INTEGER REFERENCES visit_dimension(encounter_num),
	category_cd TEXT,
	body TEXT NOT NULL,
	blob TEXT,
	import_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	upload_id INTEGER,
	sourcesystem_cd TEXT NOT NULL DEFAULT 'USER'
);
CREATE INDEX idx_note_patient ON note_fact(patient_num);
`,
		},
		{
			Name:        "007_cql_rule",
			Description: "Creates CQL_RULE and CONCEPT_CQL_LOOKUP",
			SQL: `
CREATE TABLE cql_rule (
	cql_id INTEGER PRIMARY KEY AUTOINCREMENT,
	code_cd TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	body TEXT NOT NULL,
	ast TEXT,
	description TEXT
);
CREATE TABLE concept_cql_lookup (
	concept_cd TEXT NOT NULL REFERENCES concept_dimension(concept_cd),
	cql_id INTEGER NOT NULL REFERENCES cql_rule(cql_id),
	PRIMARY KEY (concept_cd, cql_id)
);
`,
		},
		{
			Name:        "008_user_account",
			Description: "Creates USER_ACCOUNT",
			SQL: `
CREATE TABLE user_account (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_cd TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	column_cd TEXT,
	blob TEXT,
	import_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	upload_id INTEGER,
	sourcesystem_cd TEXT NOT NULL DEFAULT 'USER'
)`,
		},
		{
			Name:        "009_provider",
			Description: "Creates PROVIDER lookup dimension",
			SQL: `
CREATE TABLE provider (
	provider_id TEXT PRIMARY KEY,
	name_char TEXT NOT NULL,
	specialty_cd TEXT,
	blob TEXT
)`,
		},
		{
			Name:        "010_cascade_triggers",
			Description: "Child-upward cascade deletes (invariant 1)",
			SQL: `
CREATE TRIGGER trg_patient_delete_visits
AFTER DELETE ON patient_dimension
BEGIN
	DELETE FROM visit_dimension WHERE patient_num = OLD.patient_num;
	DELETE FROM observation_fact WHERE patient_num = OLD.patient_num;
	DELETE FROM note_fact WHERE patient_num = OLD.patient_num;
END;

CREATE TRIGGER trg_visit_delete_observations
AFTER DELETE ON visit_dimension
BEGIN
	DELETE FROM observation_fact WHERE encounter_num = OLD.encounter_num;
	DELETE FROM note_fact WHERE encounter_num = OLD.encounter_num;
END;
`,
		},
		{
			Name:        "011_patient_observations_view",
			Description: "View joining observation x concept x code_lookup for display resolution",
			SQL: `
CREATE VIEW patient_observations AS
SELECT
	o.instance_num,
	o.patient_num,
	o.encounter_num,
	o.concept_cd,
	COALESCE(c.display_name, o.concept_cd) AS concept_name_char,
	o.valtype_cd,
	o.nval_num,
	o.tval_char,
	COALESCE(
		CASE WHEN o.valtype_cd = 'N' THEN CAST(o.nval_num AS TEXT) ELSE o.tval_char END,
		''
	) AS tval_resolved,
	o.unit_cd,
	o.category_cd,
	o.provider_id,
	o.location_cd,
	o.start_date,
	o.end_date,
	o.sourcesystem_cd
FROM observation_fact o
LEFT JOIN concept_dimension c ON c.concept_cd = o.concept_cd
`,
		},
	}
}
